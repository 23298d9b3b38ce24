package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/copilot/internal/config"
	"github.com/joss/copilot/internal/exec"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0644))
}

func TestResolveSource(t *testing.T) {
	dir := t.TempDir()

	_, ok := ResolveSource("")
	assert.False(t, ok)

	exact := filepath.Join(dir, "call.wav")
	_, ok = ResolveSource(exact)
	assert.False(t, ok)

	touch(t, filepath.Join(dir, "call.webm"))
	touch(t, filepath.Join(dir, "call.mp3"))
	got, ok := ResolveSource(exact)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "call.mp3"), got)

	touch(t, exact)
	got, ok = ResolveSource(exact)
	require.True(t, ok)
	assert.Equal(t, exact, got)
}

func TestResolveSourceEscapesMeta(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "call[1].m4a"))
	got, ok := ResolveSource(filepath.Join(dir, "call[1].wav"))
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "call[1].m4a"), got)
}

func TestClipPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/clips", "s1", "soil-42-75.wav"), ClipPath("/clips", "s1", "soil", 42.9, 75.2, "wav"))
}

func TestCreateCutsClip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "call.wav")
	touch(t, src)

	runner := exec.NewMockRunner()
	tr := NewTrimmer(config.AudioConfig{}, filepath.Join(dir, "clips"), runner)

	clip := tr.Create(context.Background(), Request{SessionID: "s1", ItemID: "soil", ItemName: "Soil", Start: 42, End: 75.5, Source: src})
	assert.Equal(t, StatusCreated, clip.Status)
	assert.Equal(t, filepath.Join(dir, "clips", "s1", "soil-42-75.wav"), clip.Path)
	assert.NotEmpty(t, clip.ID)

	calls := runner.CallsTo("ffmpeg")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"-y", "-ss", "42.000", "-to", "75.500", "-i", src, "-c", "copy", clip.Path}, calls[0].Args)

	_, err := os.Stat(filepath.Dir(clip.Path))
	assert.NoError(t, err)
}

func TestCreatePendingWhenRecordingMissing(t *testing.T) {
	dir := t.TempDir()
	runner := exec.NewMockRunner()
	tr := NewTrimmer(config.AudioConfig{FFmpeg: "/opt/ffmpeg"}, filepath.Join(dir, "clips"), runner)

	clip := tr.Create(context.Background(), Request{SessionID: "s1", ItemID: "soil", Start: 1, End: 9, Source: filepath.Join(dir, "nope.wav")})
	assert.Equal(t, StatusPending, clip.Status)
	assert.Equal(t, filepath.Join(dir, "clips", "s1", "soil-1-9.wav"), clip.Path)
	assert.Empty(t, runner.Calls)
}

func TestCreateFailedFFmpeg(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "call.wav")
	touch(t, src)

	runner := exec.NewMockRunner()
	runner.AddResponse("ffmpeg", exec.MockResponse{
		Stderr: []byte("ffmpeg version 6\ncall.wav: Invalid data found when processing input\n"),
		Err:    errors.New("exit status 1"),
	})
	tr := NewTrimmer(config.AudioConfig{}, filepath.Join(dir, "clips"), runner)

	clip := tr.Create(context.Background(), Request{SessionID: "s", ItemID: "i", Start: 0, End: 5, Source: src})
	assert.Equal(t, StatusFailed, clip.Status)
	assert.Equal(t, "call.wav: Invalid data found when processing input", clip.Error)
}

func TestCreateRejectsEmptyRange(t *testing.T) {
	tr := NewTrimmer(config.AudioConfig{}, t.TempDir(), exec.NewMockRunner())
	clip := tr.Create(context.Background(), Request{ItemID: "i", Start: 10, End: 10})
	assert.Equal(t, StatusFailed, clip.Status)

	clip = tr.Create(context.Background(), Request{ItemID: "i", Start: -5, End: 3})
	assert.Equal(t, 0.0, clip.Start)
	assert.Equal(t, StatusPending, clip.Status)
}
