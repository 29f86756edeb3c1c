package l4state

import (
	"io"
	"log"
)

var (
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the logging streams for the l4state package.
// Status transitions go to diag; state updates never fail, so the ops
// writer is ignored. Pass nil for any writer to disable that stream.
func SetLogWriters(_, diag, trace io.Writer) {
	diagLogger = newLogger("[l4state] ", diag)
	traceLogger = newLogger("[l4state] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (per-update coefficient diffs).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
