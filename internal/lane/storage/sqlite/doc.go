// Package sqlite contains the SQLite persistence for lane runs.
//
// A run is one processing session over an ordered frame sequence; each
// processed frame is stored as a FrameRecord. Lane tracking state itself
// is never persisted. The schema is managed by golang-migrate from the
// embedded migrations directory.
package sqlite
