package exec

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSRunnerRun(t *testing.T) {
	r := NewOSRunner()
	out, err := r.Run(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestOSRunnerRunSeparate(t *testing.T) {
	r := NewOSRunner()
	stdout, stderr, err := r.RunSeparate(context.Background(), "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(stdout))
	assert.Equal(t, "err\n", string(stderr))
}

func TestOSRunnerSpawnExitCode(t *testing.T) {
	r := NewOSRunner()
	p, err := r.Spawn("sh", "-c", "echo line; exit 3")
	require.NoError(t, err)
	assert.NotZero(t, p.Pid())

	scanner := bufio.NewScanner(p.Stdout())
	require.True(t, scanner.Scan())
	assert.Equal(t, "line", scanner.Text())
	io.Copy(io.Discard, p.Stdout())
	io.Copy(io.Discard, p.Stderr())

	status, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, status.Code)
	assert.False(t, status.Normal())
}

func TestOSRunnerSpawnTerminate(t *testing.T) {
	r := NewOSRunner()
	p, err := r.Spawn("sleep", "30")
	require.NoError(t, err)

	require.NoError(t, p.Terminate())
	io.Copy(io.Discard, p.Stdout())
	io.Copy(io.Discard, p.Stderr())

	done := make(chan ExitStatus, 1)
	go func() {
		status, _ := p.Wait()
		done <- status
	}()

	select {
	case status := <-done:
		assert.True(t, status.Signaled)
		assert.True(t, status.Normal())
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after SIGTERM")
	}
}

func TestOSRunnerSpawnMissingBinary(t *testing.T) {
	r := NewOSRunner()
	_, err := r.Spawn("/nonexistent/recognizer-binary")
	assert.Error(t, err)
}

func TestMockRunnerRecordsCalls(t *testing.T) {
	m := NewMockRunner()
	m.AddResponse("ffmpeg", MockResponse{Stdout: []byte("ok")})

	out, err := m.Run(context.Background(), "ffmpeg", "-i", "in.wav")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))

	calls := m.CallsTo("ffmpeg")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"-i", "in.wav"}, calls[0].Args)
}

func TestMockProcessLifecycle(t *testing.T) {
	p := NewMockProcess(7)

	go func() {
		p.EmitStdout("READY")
		p.Exit(ExitStatus{Code: 0})
	}()

	scanner := bufio.NewScanner(p.Stdout())
	require.True(t, scanner.Scan())
	assert.Equal(t, "READY", scanner.Text())
	assert.False(t, scanner.Scan())

	status, err := p.Wait()
	require.NoError(t, err)
	assert.True(t, status.Normal())
}

func TestMockProcessTerminateIgnoredUntilKill(t *testing.T) {
	p := NewMockProcess(9)
	go io.Copy(io.Discard, p.Stderr())

	require.NoError(t, p.Terminate())
	assert.Equal(t, 1, p.Terminated())

	select {
	case <-p.exited:
		t.Fatal("terminate should be ignored by default")
	default:
	}

	require.NoError(t, p.Kill())
	status, _ := p.Wait()
	assert.True(t, status.Signaled)
	assert.Equal(t, 1, p.Killed())
}
