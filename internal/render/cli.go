// Package render wraps the external animation renderer, which is run as an untrusted subprocess.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

var ErrTimeout = errors.New("render timed out")

// Result captures what the renderer printed.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExitError reports a renderer that ran to completion with a non-zero status.
type ExitError struct {
	Code   int
	Stdout string
	Stderr string
}

func (e *ExitError) Error() string {
	out := e.Stderr
	if strings.TrimSpace(out) == "" {
		out = e.Stdout
	}
	return fmt.Sprintf("render exited with code %d: %s", e.Code, Tail(out, 2000))
}

// Runner renders one scene of a script.
type Runner interface {
	Render(ctx context.Context, scriptPath, scene string) (*Result, error)
}

// Option configures the CLI runner.
type Option func(*CLI)

func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithQuality sets the quality flag, e.g. -ql or -qh.
func WithQuality(flag string) Option {
	return func(c *CLI) {
		if flag != "" {
			c.quality = flag
		}
	}
}

func WithWorkDir(dir string) Option {
	return func(c *CLI) { c.workDir = dir }
}

// WithMediaDir points the renderer's output tree at dir.
func WithMediaDir(dir string) Option {
	return func(c *CLI) { c.mediaDir = dir }
}

func WithTimeout(d time.Duration) Option {
	return func(c *CLI) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// CLI runs the manim command line.
type CLI struct {
	binary   string
	quality  string
	workDir  string
	mediaDir string
	timeout  time.Duration
}

func NewCLI(opts ...Option) *CLI {
	c := &CLI{binary: "manim", quality: "-ql", timeout: 10 * time.Minute}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CLI) Binary() string { return c.binary }

func (c *CLI) Timeout() time.Duration { return c.timeout }

// Available reports whether the binary resolves on PATH (or as a path).
func (c *CLI) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

func (c *CLI) args(scriptPath, scene string) []string {
	args := []string{c.quality, scriptPath, scene}
	if c.mediaDir != "" {
		args = append(args, "--media_dir", c.mediaDir)
	}
	return args
}

// Render runs the renderer and waits for it. The process is killed when the
// configured timeout or ctx expires. A timeout returns an error wrapping ErrTimeout;
// a non-zero exit returns *ExitError.
func (c *CLI) Render(ctx context.Context, scriptPath, scene string) (*Result, error) {
	if strings.TrimSpace(scriptPath) == "" {
		return nil, errors.New("script path required")
	}
	if strings.TrimSpace(scene) == "" {
		return nil, errors.New("scene name required")
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := commandContext(tctx, c.binary, c.args(scriptPath, scene)...) //nolint:gosec
	if c.workDir != "" {
		cmd.Dir = c.workDir
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return res, &ExitError{Code: exitErr.ExitCode(), Stdout: res.Stdout, Stderr: res.Stderr}
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("start renderer: %w", err)
	}
	return res, nil
}

// Tail returns at most the last n bytes of s.
func Tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var _ Runner = (*CLI)(nil)
