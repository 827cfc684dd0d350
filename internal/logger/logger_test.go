package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Level
	}{
		{"silent", "silent", LevelSilent},
		{"error", "error", LevelError},
		{"warn", "warn", LevelWarn},
		{"info", "info", LevelInfo},
		{"debug", "debug", LevelDebug},
		{"mixed case", "DeBuG", LevelDebug},
		{"padded", "  warn  ", LevelWarn},
		{"unknown defaults to info", "verbose", LevelInfo},
		{"empty defaults to info", "", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelWarn, "[test]")
	l.SetOutput(&buf)

	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line")
	l.Error("error line")

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("lines below warn leaked through: %q", out)
	}
	if !strings.Contains(out, "warn line") || !strings.Contains(out, "error line") {
		t.Errorf("warn/error lines missing: %q", out)
	}
	if !strings.Contains(out, "[test]") {
		t.Errorf("prefix missing: %q", out)
	}
}

func TestAppLogAlwaysWrites(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelSilent, "[test]")
	l.SetOutput(&buf)

	l.AppLog("error", "something broke")

	if !strings.Contains(buf.String(), "[App error]") {
		t.Errorf("app log suppressed at silent level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "something broke") {
		t.Errorf("app log message missing: %q", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelSilent, "[test]")
	l.SetOutput(&buf)

	l.Info("before")
	l.SetLevel(LevelInfo)
	l.Info("after")

	if strings.Contains(buf.String(), "before") {
		t.Errorf("silent level wrote a line: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "after") {
		t.Errorf("info line missing after level change: %q", buf.String())
	}
}
