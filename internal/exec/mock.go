package exec

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// MockRunner implements Runner for testing.
type MockRunner struct {
	mu sync.Mutex

	// Calls records all command invocations
	Calls []MockCall

	// Responses maps a command name to its response
	Responses map[string]MockResponse

	// SpawnFn builds the process returned by Spawn (nil = NewMockProcess)
	SpawnFn func(name string, args []string) (Process, error)
}

// MockCall records a single command invocation.
type MockCall struct {
	Name string
	Args []string
	Dir  string
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// NewMockRunner creates a new mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		Responses: make(map[string]MockResponse),
	}
}

// AddResponse sets the response for a command name.
func (m *MockRunner) AddResponse(name string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[name] = resp
}

// CallsTo returns the recorded calls for a command name.
func (m *MockRunner) CallsTo(name string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockRunner) record(name string, args []string, dir string) MockResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Name: name, Args: args, Dir: dir})
	return m.Responses[name]
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	resp := m.record(name, args, "")
	out := append(append([]byte{}, resp.Stdout...), resp.Stderr...)
	return out, resp.Err
}

func (m *MockRunner) RunInDir(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	resp := m.record(name, args, dir)
	out := append(append([]byte{}, resp.Stdout...), resp.Stderr...)
	return out, resp.Err
}

func (m *MockRunner) RunSeparate(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	resp := m.record(name, args, "")
	return resp.Stdout, resp.Stderr, resp.Err
}

func (m *MockRunner) Spawn(name string, args ...string) (Process, error) {
	resp := m.record(name, args, "")
	if resp.Err != nil {
		return nil, resp.Err
	}
	if m.SpawnFn != nil {
		return m.SpawnFn(name, args)
	}
	return NewMockProcess(4242), nil
}

// MockProcess is a scriptable Process. Write lines with EmitStdout/EmitStderr
// and end it with Exit. Terminate and Kill are recorded; by default Terminate
// is ignored (simulating a hung child) and Kill exits with a signal status.
type MockProcess struct {
	pid int

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	mu         sync.Mutex
	terminated int
	killed     int
	exitOnTerm bool
	exited     chan struct{}
	exitOnce   sync.Once
	status     ExitStatus
}

// NewMockProcess creates a mock process; pid 0 simulates a process that has
// not been assigned an id yet.
func NewMockProcess(pid int) *MockProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	return &MockProcess{
		pid:     pid,
		stdoutR: outR,
		stdoutW: outW,
		stderrR: errR,
		stderrW: errW,
		exited:  make(chan struct{}),
	}
}

// ExitOnTerminate makes Terminate end the process with a clean exit.
func (p *MockProcess) ExitOnTerminate() *MockProcess {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitOnTerm = true
	return p
}

// EmitStdout writes lines to stdout.
func (p *MockProcess) EmitStdout(lines ...string) error {
	_, err := io.WriteString(p.stdoutW, strings.Join(lines, "\n")+"\n")
	return err
}

// EmitStderr writes lines to stderr.
func (p *MockProcess) EmitStderr(lines ...string) error {
	_, err := io.WriteString(p.stderrW, strings.Join(lines, "\n")+"\n")
	return err
}

// Exit ends the process with the given status.
func (p *MockProcess) Exit(status ExitStatus) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.status = status
		p.mu.Unlock()
		p.stdoutW.Close()
		p.stderrW.Close()
		close(p.exited)
	})
}

// Terminated returns how many times Terminate was called.
func (p *MockProcess) Terminated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Killed returns how many times Kill was called.
func (p *MockProcess) Killed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *MockProcess) Stdout() io.Reader { return p.stdoutR }
func (p *MockProcess) Stderr() io.Reader { return p.stderrR }
func (p *MockProcess) Pid() int          { return p.pid }

func (p *MockProcess) Terminate() error {
	p.mu.Lock()
	p.terminated++
	exit := p.exitOnTerm
	p.mu.Unlock()
	if exit {
		p.Exit(ExitStatus{Code: -1, Signaled: true})
	}
	return nil
}

func (p *MockProcess) Kill() error {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
	p.Exit(ExitStatus{Code: -1, Signaled: true})
	return nil
}

func (p *MockProcess) Wait() (ExitStatus, error) {
	<-p.exited
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

// ErrMockSpawn is a convenience spawn failure for tests.
var ErrMockSpawn = errors.New("mock spawn failure")
