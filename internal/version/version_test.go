package version

import (
	"strings"
	"testing"
)

func TestVersionDefaults(t *testing.T) {
	if Version == "" || BuildTime == "" || GitCommit == "" {
		t.Fatal("build metadata must never be empty")
	}
}

func TestString(t *testing.T) {
	got := String()
	if !strings.HasPrefix(got, "prefsd "+Version) {
		t.Fatalf("unexpected version line %q", got)
	}
	if !strings.Contains(got, GitCommit) {
		t.Fatalf("version line %q lacks commit", got)
	}
}
