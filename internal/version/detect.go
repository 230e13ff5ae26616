package version

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"regexp"
	"strings"
)

// Info captures a tool version installed on the system.
type Info struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version"`
}

// Probe describes how to ask a tool for its version.
type Probe struct {
	Name    string
	Command string
	Args    []string
	Pattern *regexp.Regexp
}

var (
	solcRegex    = regexp.MustCompile(`(?i)version:\s*v?(\d+\.\d+\.\d+)`)
	slitherRegex = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)
)

// Solc probes the compiler with `<command> --version`.
func Solc(command string) Probe {
	if command == "" {
		command = "solc"
	}
	return Probe{Name: "solc", Command: command, Args: []string{"--version"}, Pattern: solcRegex}
}

// Slither probes the analyzer with `<command> --version`.
func Slither(command string) Probe {
	if command == "" {
		command = "slither"
	}
	return Probe{Name: "slither", Command: command, Args: []string{"--version"}, Pattern: slitherRegex}
}

// Detect runs the probe and extracts the version.
func Detect(ctx context.Context, p Probe) (Info, error) {
	path, err := exec.LookPath(p.Command)
	if err != nil {
		return Info{Name: p.Name}, err
	}
	out, err := runCommand(ctx, path, p.Args...)
	if err != nil {
		return Info{Name: p.Name, Path: path}, err
	}
	match := p.Pattern.FindStringSubmatch(out)
	if len(match) < 2 {
		return Info{Name: p.Name, Path: path}, fmt.Errorf("unable to parse %s version from %q", p.Name, out)
	}
	return Info{Name: p.Name, Path: path, Version: match[1]}, nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = nil
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// CompareMajorMinor compares major.minor portions of two semver-like versions.
// An empty requirement matches anything.
func CompareMajorMinor(desired, actual string) bool {
	if strings.TrimSpace(desired) == "" {
		return true
	}
	d := semverPrefix(desired)
	a := semverPrefix(actual)
	if d == "" || a == "" {
		return false
	}
	return strings.EqualFold(d, a)
}

func semverPrefix(version string) string {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}

// Missing reports whether executing the command returns a not-found error.
func Missing(cmdErr error) bool {
	return errors.Is(cmdErr, exec.ErrNotFound) || errors.Is(cmdErr, fs.ErrNotExist)
}
