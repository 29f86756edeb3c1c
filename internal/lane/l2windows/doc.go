// Package l2windows owns Layer 2 (Windows) of the lane data model.
//
// Responsibilities: the coarse histogram seed search and the per-frame
// sliding-window scan that turns a top-down mask into one ordered point
// sample per horizontal band and lane side, imputing a sample from recent
// history whenever a band holds no signal.
// Key types: Scanner, PointSample, PointSet.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2windows
