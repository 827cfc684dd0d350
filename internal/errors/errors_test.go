package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{
			name:    "config error",
			code:    "E001",
			wantMsg: "deskthing.json not found",
			wantCat: CategoryConfig,
		},
		{
			name:    "process error",
			code:    "E201",
			wantMsg: "failed to launch app server process",
			wantCat: CategoryProcess,
		},
		{
			name:    "release error",
			code:    "E402",
			wantMsg: "failed to upload release artifact",
			wantCat: CategoryRelease,
		},
		{
			name:    "unknown code",
			code:    "E999",
			wantMsg: "unknown error",
			wantCat: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
		})
	}
}

func TestWrapAndAs(t *testing.T) {
	cause := stderrors.New("disk on fire")
	wrapped := fmt.Errorf("outer: %w", New("E302").Wrap(cause))

	var derr *Error
	if !stderrors.As(wrapped, &derr) {
		t.Fatal("errors.As failed to find *Error in chain")
	}
	if derr.Code != "E302" {
		t.Errorf("Code = %q, want E302", derr.Code)
	}
	if !stderrors.Is(wrapped, cause) {
		t.Error("errors.Is failed to find the wrapped cause")
	}
}

func TestFormat(t *testing.T) {
	err := New("E402").Wrap(stderrors.New("403 forbidden")).WithDetail("bucket %s", "releases")
	out := err.Format()

	for _, want := range []string{"E402", "403 forbidden", "bucket releases", "hint:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() = %q, missing %q", out, want)
		}
	}
}

func TestNewfHasNoCode(t *testing.T) {
	err := Newf("bad port %d", 70000)
	if err.Code != "" {
		t.Errorf("Code = %q, want empty", err.Code)
	}
	if err.Error() != "bad port 70000" {
		t.Errorf("Error() = %q", err.Error())
	}
}
