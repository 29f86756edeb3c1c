package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op that must not reach the previous logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestSetWriter(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	SetWriter("[lanes] ", &buf)
	Logf("session %s frame %d", "abc", 7)

	out := buf.String()
	if !strings.Contains(out, "session abc frame 7") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.HasPrefix(out, "[lanes] ") {
		t.Errorf("expected prefix, got %q", out)
	}

	buf.Reset()
	SetWriter("", nil)
	Logf("muted")
	if buf.Len() != 0 {
		t.Errorf("expected muted logger, got %q", buf.String())
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()

	Logf("test message: %s", "value")
}
