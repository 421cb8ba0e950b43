package debug

import (
	"bytes"
	"io"
	"os"
	"testing"
)

func TestEnabled(t *testing.T) {
	oldEnabled := enabled
	defer func() { enabled = oldEnabled }()

	enabled = true
	if !Enabled() {
		t.Error("Enabled() = false, want true")
	}
	enabled = false
	if Enabled() {
		t.Error("Enabled() = true, want false")
	}
}

func captureOutput(t *testing.T, target **os.File, fn func()) string {
	t.Helper()
	old := *target
	defer func() { *target = old }()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	*target = w
	fn()
	w.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("failed to read pipe: %v", err)
	}
	return buf.String()
}

func TestLogf(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		want    string
	}{
		{"outputs when enabled", true, "resolved 3 components\n"},
		{"silent when disabled", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEnabled := enabled
			defer func() { enabled = oldEnabled }()
			enabled = tt.enabled

			got := captureOutput(t, &os.Stderr, func() {
				Logf("resolved %d components\n", 3)
			})
			if got != tt.want {
				t.Errorf("Logf() output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintf(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		want    string
	}{
		{"outputs when enabled", true, "removed 7 duplicates\n"},
		{"silent when disabled", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEnabled := enabled
			defer func() { enabled = oldEnabled }()
			enabled = tt.enabled

			got := captureOutput(t, &os.Stdout, func() {
				Printf("removed %d duplicates\n", 7)
			})
			if got != tt.want {
				t.Errorf("Printf() output = %q, want %q", got, tt.want)
			}
		})
	}
}
