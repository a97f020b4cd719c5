// Package ffmpeg wraps the external ffmpeg/ffprobe binaries behind small,
// testable interfaces. All invocations run under a deadline and kill the
// whole process group on expiry so no encoder outlives its job.
package ffmpeg

import (
	"context"
	"os/exec"
	"strings"
	"syscall"
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandRunner runs real processes. Each command is placed in its own
// process group so cancellation reaches ffmpeg's forked children too.
type CommandRunner struct{}

// NewCommandRunner creates a Runner backed by os/exec.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{}
}

func (r *CommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid signals the whole group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	return cmd.CombinedOutput()
}

// outputTail returns the last few lines of combined output for error
// messages; ffmpeg writes pages of configuration banner before the part
// that matters.
func outputTail(output []byte, lines int) string {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return ""
	}
	all := strings.Split(trimmed, "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n")
}
