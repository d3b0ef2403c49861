package health

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Execer runs a command inside a container and reports its exit code and
// combined output. Satisfied by the Docker runtime.
type Execer interface {
	ExecRun(ctx context.Context, containerID string, cmd []string, user string) (int, []byte, error)
}

// ExecChecker performs health checks by running a command in a container
type ExecChecker struct {
	// Runtime executes the command
	Runtime Execer

	// ContainerID is the container to exec into
	ContainerID string

	// Command is the command to execute (e.g., ["test", "-d", "/session"])
	Command []string

	// User the command runs as; empty means the container default
	User string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(rt Execer, containerID string, command []string) *ExecChecker {
	return &ExecChecker{
		Runtime:     rt,
		ContainerID: containerID,
		Command:     command,
		Timeout:     10 * time.Second,
	}
}

// Check performs the exec health check. Healthy means exit code zero.
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	if e.Runtime == nil {
		return Result{
			Healthy:   false,
			Message:   "no runtime configured",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	exitCode, output, err := e.Runtime.ExecRun(execCtx, e.ContainerID, e.Command, e.User)

	message := fmt.Sprintf("Command: %v", e.Command)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s, Error: %v", message, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	if out := strings.TrimSpace(string(output)); out != "" {
		if len(out) > 100 {
			out = out[:100] + "..."
		}
		message = fmt.Sprintf("%s, Output: %s", message, out)
	}

	if exitCode != 0 {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s, Exit: %d", message, exitCode),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithUser sets the user the command runs as
func (e *ExecChecker) WithUser(user string) *ExecChecker {
	e.User = user
	return e
}
