// Package exec provides a testable command execution abstraction.
// Components take a Runner instead of calling os/exec directly.
package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	osexec "os/exec"
	"sync"
	"syscall"
)

// Runner defines the interface for executing external commands.
type Runner interface {
	// Run executes a command and returns combined stdout/stderr.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInDir executes a command in a specific directory.
	RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error)

	// RunSeparate executes and returns stdout and stderr separately.
	RunSeparate(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

	// Spawn starts a long-running command with piped stdout/stderr.
	Spawn(name string, args ...string) (Process, error)
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	// Code is the exit code, -1 when the process was terminated by a signal
	Code int

	// Signaled is true when no exit code exists (killed by a signal)
	Signaled bool
}

// Normal reports whether the exit counts as a regular stop.
func (s ExitStatus) Normal() bool {
	return s.Signaled || s.Code == 0
}

// Process is a running child process.
type Process interface {
	// Stdout streams the child's standard output.
	Stdout() io.Reader

	// Stderr streams the child's standard error.
	Stderr() io.Reader

	// Pid returns the OS process id, 0 if none was assigned.
	Pid() int

	// Terminate asks the process to exit (SIGTERM).
	Terminate() error

	// Kill force-kills the process.
	Kill() error

	// Wait blocks until exit. Only the first call waits; later calls return the same status.
	Wait() (ExitStatus, error)
}

// OSRunner implements Runner using os/exec.
type OSRunner struct {
	// Env overrides environment variables (nil = inherit from parent)
	Env []string
}

// NewOSRunner creates a new OS-based command runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Run executes a command and returns combined output.
func (r *OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	return cmd.CombinedOutput()
}

// RunInDir executes a command in a specific directory.
func (r *OSRunner) RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	return cmd.CombinedOutput()
}

// RunSeparate executes and returns stdout and stderr separately.
func (r *OSRunner) RunSeparate(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Spawn starts a command with piped output.
func (r *OSRunner) Spawn(name string, args ...string) (Process, error) {
	cmd := osexec.Command(name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &osProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type osProcess struct {
	cmd    *osexec.Cmd
	stdout io.Reader
	stderr io.Reader

	waitOnce sync.Once
	status   ExitStatus
	waitErr  error
}

func (p *osProcess) Stdout() io.Reader { return p.stdout }
func (p *osProcess) Stderr() io.Reader { return p.stderr }

func (p *osProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *osProcess) Terminate() error {
	return p.signal(syscall.SIGTERM)
}

func (p *osProcess) Kill() error {
	return p.signal(os.Kill)
}

func (p *osProcess) signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Wait must only be called after stdout and stderr have been drained.
func (p *osProcess) Wait() (ExitStatus, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		var exitErr *osexec.ExitError
		switch {
		case err == nil:
			p.status = ExitStatus{Code: 0}
		case errors.As(err, &exitErr):
			code := exitErr.ExitCode()
			p.status = ExitStatus{Code: code, Signaled: code == -1}
		default:
			p.status = ExitStatus{Code: -1}
			p.waitErr = err
		}
	})
	return p.status, p.waitErr
}
