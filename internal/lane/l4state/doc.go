// Package l4state owns Layer 4 (Tracking) of the lane data model.
//
// Responsibilities: per-side lane state that persists across frames of
// one session. Each LaneState keeps a bounded history of fits, the
// smoothed best fit, a bounded curvature history and the
// UNINITIALIZED → TRACKING ⇄ STALE status.
// Key types: Ring, LaneState, LaneFit, Status.
//
// Dependency rule: L4 may depend on L1-L3, but never on the pipeline.
package l4state
