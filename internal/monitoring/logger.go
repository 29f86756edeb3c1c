package monitoring

import (
	"io"
	"log"
)

// Logf is the shared diagnostic logger for storage, monitor and API code.
// It defaults to log.Printf; SetLogger or SetWriter redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetWriter routes Logf to w with the given prefix. A nil writer mutes it.
func SetWriter(prefix string, w io.Writer) {
	if w == nil {
		SetLogger(nil)
		return
	}
	SetLogger(log.New(w, prefix, log.LstdFlags|log.Lmicroseconds).Printf)
}
