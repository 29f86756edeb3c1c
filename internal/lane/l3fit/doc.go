// Package l3fit owns Layer 3 (Fits) of the lane data model.
//
// Responsibilities: least-squares second-order polynomial fits of a
// lane's point samples in pixel and metric space, reported as an explicit
// tagged result rather than a failure, plus the geometry derived from a
// metric fit (radius of curvature, lateral offset).
// Key types: Polynomial, FitResult, Fitter, Scale, Curvature, Offset.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
package l3fit
