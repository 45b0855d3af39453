package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		debug     bool
		showDebug bool
	}{
		{false, false},
		{true, true},
	}

	for _, test := range tests {
		var buf bytes.Buffer
		InitWriter(&buf, test.debug, true)

		log.Debug("Compiled", "block", "entry")
		log.Warn("Block compilation failed", "pc", 4)

		out := buf.String()
		if got := strings.Contains(out, "Compiled"); got != test.showDebug {
			t.Errorf("debug=%v: expected debug output %v, got %q", test.debug, test.showDebug, out)
		}
		if !strings.Contains(out, "BLOCKJIT") || !strings.Contains(out, "pc=4") {
			t.Errorf("debug=%v: expected a prefixed warning with fields, got %q", test.debug, out)
		}
	}
	InitWriter(&bytes.Buffer{}, false, true)
}
