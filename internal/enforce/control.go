package enforce

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"inventariagent/internal/cmdexec"
)

// OSControl drives processes through gopsutil and the platform kill tools
// (taskkill on Windows, kill/pkill elsewhere).
type OSControl struct {
	goos   string
	runner cmdexec.Runner
}

// NewOSControl returns a control for the running platform. A nil runner
// runs the tools on the host.
func NewOSControl(runner cmdexec.Runner) *OSControl {
	if runner == nil {
		runner = cmdexec.Host{}
	}
	return &OSControl{goos: runtime.GOOS, runner: runner}
}

func (c *OSControl) windows() bool { return c.goos == "windows" }

func (c *OSControl) Exists(ctx context.Context, pid int32) (bool, error) {
	return process.PidExistsWithContext(ctx, pid)
}

func (c *OSControl) open(ctx context.Context, pid int32) (*process.Process, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return nil, ErrProcessNotFound
	}
	return p, err
}

func (c *OSControl) CloseGracefully(ctx context.Context, pid int32) error {
	if c.windows() {
		// Without /F taskkill posts WM_CLOSE to the main window.
		return c.taskkill(ctx, "/PID", strconv.Itoa(int(pid)))
	}
	p, err := c.open(ctx, pid)
	if err != nil {
		return err
	}
	return p.TerminateWithContext(ctx)
}

func (c *OSControl) KillTree(ctx context.Context, pid int32) error {
	p, err := c.open(ctx, pid)
	if err != nil {
		return err
	}
	killDescendants(ctx, p)
	return p.KillWithContext(ctx)
}

func killDescendants(ctx context.Context, p *process.Process) {
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return
	}
	for _, child := range children {
		killDescendants(ctx, child)
		_ = child.KillWithContext(ctx)
	}
}

func (c *OSControl) ForceKillPID(ctx context.Context, pid int32) error {
	if ok, err := c.Exists(ctx, pid); err == nil && !ok {
		return ErrProcessNotFound
	}
	id := strconv.Itoa(int(pid))
	if c.windows() {
		return c.taskkill(ctx, "/F", "/T", "/PID", id)
	}
	res, err := c.runner.Run(ctx, "kill", "-9", id)
	if err != nil {
		return err
	}
	if res.ExitCode == 0 {
		return nil
	}
	if res.NotFound() {
		return ErrProcessNotFound
	}
	return fmt.Errorf("kill -9 %s: exit %d: %s", id, res.ExitCode, res.Output)
}

func (c *OSControl) ForceKillImage(ctx context.Context, image string) error {
	if c.windows() {
		if !strings.HasSuffix(strings.ToLower(image), ".exe") {
			image += ".exe"
		}
		return c.taskkill(ctx, "/F", "/T", "/IM", image)
	}
	name := strings.TrimSuffix(image, ".exe")
	res, err := c.runner.Run(ctx, "pkill", "-9", "-x", name)
	switch {
	case err != nil:
		return err
	case res.ExitCode == 0:
		return nil
	case res.ExitCode == 1:
		// pkill exits 1 when nothing matched.
		return ErrProcessNotFound
	}
	return fmt.Errorf("pkill %s: exit %d: %s", name, res.ExitCode, res.Output)
}

func (c *OSControl) taskkill(ctx context.Context, args ...string) error {
	res, err := c.runner.Run(ctx, "taskkill", args...)
	if err != nil {
		return err
	}
	if res.ExitCode == 0 {
		return nil
	}
	// 128: no running instance of the task.
	if res.ExitCode == 128 || res.NotFound() {
		return ErrProcessNotFound
	}
	return fmt.Errorf("taskkill %s: exit %d: %s", strings.Join(args, " "), res.ExitCode, res.Output)
}
