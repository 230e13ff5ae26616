// Package runner invokes external compiler and analyzer processes against a
// transient input file and captures their results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrToolNotFound matches a *ToolNotFoundError.
var ErrToolNotFound = errors.New("tool not found")

// ToolNotFoundError reports that a command could not be located on PATH.
type ToolNotFoundError struct {
	Name string
	Err  error
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("%s executable not found: %v", e.Name, e.Err)
}

func (e *ToolNotFoundError) Unwrap() error { return e.Err }

// Is matches ErrToolNotFound.
func (e *ToolNotFoundError) Is(target error) bool { return target == ErrToolNotFound }

// Command describes one external tool. The transient input path is appended
// after Args.
type Command struct {
	Name   string            `json:"name"`
	Args   []string          `json:"args,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
	Suffix string            `json:"suffix,omitempty"`
}

// Outcome is the structured result of one invocation.
type Outcome struct {
	Command  []string      `json:"command"`
	Success  bool          `json:"success"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// Options configure how the invoker runs tools.
type Options struct {
	Stdout    io.Writer
	Stderr    io.Writer
	Verbose   bool
	TailLines int
	Env       []string
	TempDir   string
	Now       func() time.Time
	LookPath  func(file string) (string, error)
}

// Invoker runs external tools one at a time.
type Invoker struct {
	opts Options
}

// New creates an invoker with the supplied options.
func New(opts Options) *Invoker {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.TailLines <= 0 {
		opts.TailLines = 20
	}
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	return &Invoker{opts: opts}
}

// Resolve locates the command binary without running it.
func (r *Invoker) Resolve(cmd Command) (string, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return "", fmt.Errorf("command name is required")
	}
	path, err := r.opts.LookPath(name)
	if err != nil {
		return "", &ToolNotFoundError{Name: name, Err: err}
	}
	return path, nil
}

// Invoke writes payload to a fresh transient file, runs the command with the
// file path as its last argument and removes the file before returning.
// A missing binary is reported before the file is created. A non-zero exit
// is not an error: it yields an Outcome with Success false.
func (r *Invoker) Invoke(ctx context.Context, cmd Command, payload []byte) (Outcome, error) {
	path, err := r.Resolve(cmd)
	if err != nil {
		return Outcome{}, err
	}

	input, err := r.writeInput(cmd, payload)
	if err != nil {
		return Outcome{}, err
	}
	defer os.Remove(input)

	argv := append(append([]string{cmd.Name}, cmd.Args...), input)
	out := Outcome{Command: argv}

	proc := exec.CommandContext(ctx, path, argv[1:]...)
	proc.Env = mergeEnv(r.opts.Env, cmd.Env)

	var stdoutBuf, stderrBuf strings.Builder
	if r.opts.Verbose {
		proc.Stdout = io.MultiWriter(r.opts.Stdout, &stdoutBuf)
		proc.Stderr = io.MultiWriter(r.opts.Stderr, &stderrBuf)
	} else {
		proc.Stdout = &stdoutBuf
		proc.Stderr = &stderrBuf
	}

	start := r.opts.Now()
	runErr := proc.Run()
	out.Duration = r.opts.Now().Sub(start)
	out.Stdout = stdoutBuf.String()
	out.Stderr = stderrBuf.String()

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		out.Success = true
	case errors.As(runErr, &exitErr):
		out.ExitCode = exitCode(runErr)
		out.Error = simplifyError(tailLines(out.Stderr, r.opts.TailLines))
		if out.Error == "" {
			out.Error = fmt.Sprintf("%s exited with status %d", cmd.Name, out.ExitCode)
		}
	default:
		return out, fmt.Errorf("run %s: %w", cmd.Name, runErr)
	}
	return out, nil
}

func (r *Invoker) writeInput(cmd Command, payload []byte) (string, error) {
	suffix := cmd.Suffix
	if suffix == "" {
		suffix = ".sol"
	}
	f, err := os.CreateTemp(r.opts.TempDir, "contractpipe-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("create transient input: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write transient input: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close transient input: %w", err)
	}
	return name, nil
}

func mergeEnv(base []string, overlays ...map[string]string) []string {
	envMap := make(map[string]string, len(base)+len(overlays)*4)
	for _, kv := range base {
		if idx := strings.Index(kv, "="); idx != -1 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for _, overlay := range overlays {
		for k, v := range overlay {
			envMap[k] = v
		}
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, envMap[k]))
	}
	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(interface{ ExitStatus() int }); ok {
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return 1
}

func tailLines(input string, maxLines int) string {
	if input == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(input, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}

var pragmaVersionRegex = regexp.MustCompile(`requires different compiler version \(current compiler is ([0-9.]+)[^)]*\)`)

func simplifyError(stderr string) string {
	if match := pragmaVersionRegex.FindStringSubmatch(stderr); len(match) == 2 {
		return fmt.Sprintf("contract pragma does not accept solc %s; install a matching compiler with `solc-select install <version>`\n%s", match[1], stderr)
	}
	return stderr
}
