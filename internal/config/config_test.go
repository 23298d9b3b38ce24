package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("NEO4J_URI", "")

	cfg, err := Load(Options{Home: home})
	require.NoError(t, err)

	assert.Equal(t, "python3", cfg.Recognizer.Command)
	assert.Equal(t, "small.en", cfg.Recognizer.Model)
	assert.Equal(t, "en", cfg.Recognizer.Language)
	assert.Equal(t, 2*time.Second, cfg.Recognizer.StopTimeout)
	assert.Equal(t, 500, cfg.Search.Capacity)
	assert.Equal(t, 5*time.Second, cfg.Search.Cooldown)
	assert.Equal(t, 3, cfg.Search.MinChars)
	assert.Equal(t, "bolt://localhost:7687", cfg.Graph.URI)
	assert.False(t, cfg.AI.Enabled())
	assert.Equal(t, home, cfg.Paths.Home)
}

func TestLoadConfigFile(t *testing.T) {
	home := t.TempDir()
	yaml := []byte("recognizer:\n  model: medium.en\n  stop_timeout: 3s\nsearch:\n  capacity: 120\n")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), yaml, 0644))

	cfg, err := Load(Options{Home: home})
	require.NoError(t, err)

	assert.Equal(t, "medium.en", cfg.Recognizer.Model)
	assert.Equal(t, 3*time.Second, cfg.Recognizer.StopTimeout)
	assert.Equal(t, 120, cfg.Search.Capacity)
}

func TestLoadEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("NEO4J_URI", "bolt://testhost:7687")
	t.Setenv("COPILOT_SEARCH_MAX_RESULTS", "4")

	cfg, err := Load(Options{Home: home})
	require.NoError(t, err)

	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
	assert.Equal(t, "bolt://testhost:7687", cfg.Graph.URI)
	assert.Equal(t, 4, cfg.Search.MaxResults)
}

func TestLoadDotEnv(t *testing.T) {
	home := t.TempDir()
	os.Unsetenv("SMTP_HOST")
	defer os.Unsetenv("SMTP_HOST")
	require.NoError(t, os.WriteFile(filepath.Join(home, ".env"), []byte("SMTP_HOST=mail.example.com\n"), 0600))

	cfg, err := Load(Options{Home: home})
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com", cfg.Mail.Host)
}

func TestGetEnvDefault(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"env set", "COPILOT_TEST_KEY", "value", "default", "value"},
		{"env empty", "COPILOT_TEST_KEY", "", "default", "default"},
		{"env not set", "COPILOT_TEST_KEY_NOTSET", "", "fallback", "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envVal != "" {
				t.Setenv(tt.key, tt.envVal)
			}
			assert.Equal(t, tt.want, getEnvDefault(tt.key, tt.fallback))
		})
	}
}

func TestPaths(t *testing.T) {
	paths := NewPaths("/tmp/copilot-home")

	assert.Equal(t, filepath.Join("/tmp/copilot-home", "data"), paths.Data)
	assert.Equal(t, filepath.Join("/tmp/copilot-home", "transcripts"), paths.Transcripts)
	assert.Equal(t, filepath.Join("/tmp/copilot-home", "recordings"), paths.Recordings)
	assert.Equal(t, filepath.Join("/tmp/copilot-home", "outbox"), paths.Outbox)
	assert.Equal(t, filepath.Join("/tmp/copilot-home", ".env"), paths.EnvFile)
	assert.Equal(t, filepath.Join("/tmp/copilot-home", "a", "b.txt"), paths.Path("a", "b.txt"))
}

func TestEnsureDirs(t *testing.T) {
	paths := NewPaths(filepath.Join(t.TempDir(), "home"))

	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs())

	for _, dir := range []string{paths.Data, paths.Transcripts, paths.Recordings, paths.Outbox, paths.Alerts, paths.Logs} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
