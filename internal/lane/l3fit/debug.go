package l3fit

import (
	"io"
	"log"
)

var (
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the logging streams for the l3fit package. Fit
// failures are recovered by the caller, so they go to diag and the ops
// writer is ignored. Pass nil for any writer to disable that stream.
func SetLogWriters(_, diag, trace io.Writer) {
	diagLogger = newLogger("[l3fit] ", diag)
	traceLogger = newLogger("[l3fit] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// diagf logs to the diag stream (degenerate fits).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (one line per successful fit).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
