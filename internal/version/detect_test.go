package version

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSemverPrefix(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0.8.24", "0.8"},
		{"v0.10.0", "0.10"},
		{"", ""},
		{"1", ""},
	}
	for _, c := range cases {
		if got := semverPrefix(c.in); got != c.want {
			t.Fatalf("semverPrefix(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCompareMajorMinor(t *testing.T) {
	tests := []struct {
		desired string
		actual  string
		match   bool
	}{
		{"0.8.24", "0.8.19", true},
		{"0.8", "0.8.19", true},
		{"0.7", "0.8.19", false},
		{"", "0.8.19", true},
		{"0.8", "", false},
	}
	for _, tt := range tests {
		if got := CompareMajorMinor(tt.desired, tt.actual); got != tt.match {
			t.Fatalf("CompareMajorMinor(%q,%q)=%v want %v", tt.desired, tt.actual, got, tt.match)
		}
	}
}

func fakeTool(t *testing.T, output string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "tool")
	script := "#!/bin/sh\necho '" + output + "'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write tool: %v", err)
	}
	return path
}

func TestDetectSolc(t *testing.T) {
	path := fakeTool(t, "solc, the solidity compiler commandline interface\nVersion: 0.8.24+commit.e11b9ed9.Linux.g++")
	info, err := Detect(context.Background(), Solc(path))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if info.Name != "solc" || info.Version != "0.8.24" || info.Path != path {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestDetectSlither(t *testing.T) {
	info, err := Detect(context.Background(), Slither(fakeTool(t, "0.10.1")))
	if err != nil || info.Version != "0.10.1" {
		t.Fatalf("Detect = %+v, %v", info, err)
	}
}

func TestDetectUnparsable(t *testing.T) {
	if _, err := Detect(context.Background(), Solc(fakeTool(t, "no version here"))); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDetectMissing(t *testing.T) {
	_, err := Detect(context.Background(), Slither(filepath.Join(t.TempDir(), "absent")))
	if err == nil || !Missing(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if Missing(errors.New("boom")) || Missing(&exec.ExitError{}) {
		t.Fatalf("only not-found errors are missing")
	}
}
