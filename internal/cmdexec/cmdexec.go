// Package cmdexec runs the platform process tools (taskkill, kill, pkill).
package cmdexec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrToolMissing is returned when the tool is not on PATH.
var ErrToolMissing = errors.New("tool not found")

// waitDelay bounds how long Run waits for output pipes after the tool is killed.
const waitDelay = 2 * time.Second

// Result is what a tool printed and how it exited. A non-zero exit code is
// not an error: kill tools use it to say "no such process".
type Result struct {
	Output   string
	ExitCode int
}

// NotFound reports whether the output names a missing process, in the
// wording of taskkill, kill and procps.
func (r Result) NotFound() bool {
	out := strings.ToLower(r.Output)
	return strings.Contains(out, "not found") || strings.Contains(out, "no such process")
}

// Runner runs one tool to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Host runs tools on the local machine.
type Host struct{}

// Run starts name with args and returns its combined output. err is set only
// when the tool could not run or ctx ended first.
func (Host) Run(ctx context.Context, name string, args ...string) (Result, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%s: %w", name, ErrToolMissing)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	res := Result{Output: strings.TrimSpace(string(out))}

	var ee *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", name, ctx.Err())
	case errors.As(err, &ee):
		res.ExitCode = ee.ExitCode()
		return res, nil
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", name, err)
	}
}
