// Package l1mask owns Layer 1 (Masks) of the lane data model.
//
// Responsibilities: the top-down binary mask handed over by the upstream
// threshold/warp collaborators, structural validation, column histograms,
// and decoding masks from image files.
// Key types: BinaryMask.
//
// Dependency rule: L1 depends on nothing else under internal/lane.
package l1mask
