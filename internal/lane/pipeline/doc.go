// Package pipeline is the composition root of the lane estimation stack.
//
// A Session wires the layer packages (l1mask, l2windows, l3fit, l4state)
// into the per-frame flow and owns the two LaneStates for the life of one
// processing run. It imports from the layer packages and storage, but none
// of those packages import pipeline.
package pipeline
