// Package config provides centralized configuration management.
// Values are layered: defaults, config.yaml, .env files, then the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full copilot configuration. Build it once with Load and pass
// the sections to the components that need them.
type Config struct {
	Paths      Paths            `mapstructure:"-"`
	Recognizer RecognizerConfig `mapstructure:"recognizer"`
	Search     SearchConfig     `mapstructure:"search"`
	AI         AIConfig         `mapstructure:"ai"`
	Graph      GraphConfig      `mapstructure:"graph"`
	Share      ShareConfig      `mapstructure:"share"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Mail       MailConfig       `mapstructure:"mail"`
	Log        LogConfig        `mapstructure:"log"`
}

// RecognizerConfig configures the external speech-to-text process.
type RecognizerConfig struct {
	// Command is the interpreter or binary to spawn (python3)
	Command string `mapstructure:"command"`

	// Script is the recognizer entry point passed as first argument
	Script string `mapstructure:"script"`

	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`

	// RecordAudio enables the --audio-output argument
	RecordAudio bool `mapstructure:"record_audio"`

	// StopTimeout is how long a graceful terminate may take before force-kill
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// SearchConfig configures the live search throttle.
type SearchConfig struct {
	Capacity        int           `mapstructure:"capacity"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	MinChars        int           `mapstructure:"min_chars"`
	MaxResults      int           `mapstructure:"max_results"`
	IncludeSnippets bool          `mapstructure:"include_snippets"`
	RepublishDelay  time.Duration `mapstructure:"republish_delay"`
}

// AIConfig configures the text-generation backend.
type AIConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	SimpleModel  string  `mapstructure:"simple_model"`
	ComplexModel string  `mapstructure:"complex_model"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float32 `mapstructure:"temperature"`
}

// Enabled reports whether an API credential is configured.
func (a AIConfig) Enabled() bool {
	return strings.TrimSpace(a.APIKey) != ""
}

// GraphConfig holds graph database connection settings.
type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// ShareConfig configures the sharing collaborator.
type ShareConfig struct {
	// Command is the radicle CLI binary
	Command string `mapstructure:"command"`

	// CloneBaseURL prefixes the aggregate "clone everything" link
	CloneBaseURL string        `mapstructure:"clone_base_url"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	Concurrency  int           `mapstructure:"concurrency"`
}

// AudioConfig configures clip trimming.
type AudioConfig struct {
	FFmpeg string `mapstructure:"ffmpeg"`
}

// MailConfig configures outbound draft delivery.
// When Host is empty drafts are written to the outbox directory instead of sent.
type MailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// LogConfig configures the diagnostic log.
type LogConfig struct {
	Verbose bool `mapstructure:"verbose"`
}

// Options control where Load looks for configuration.
type Options struct {
	// Home overrides the copilot home directory (default ~/.copilot or $COPILOT_HOME)
	Home string

	// ConfigFile overrides the config file location
	ConfigFile string
}

// Load builds the configuration. A missing config file or .env file is not an error.
func Load(opts Options) (*Config, error) {
	home := opts.Home
	if home == "" {
		home = getEnvDefault("COPILOT_HOME", defaultHome())
	}
	paths := NewPaths(home)

	for _, f := range []string{paths.EnvFile, ".env"} {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(home)
	}

	v.SetEnvPrefix("COPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Paths = paths

	applyWellKnownEnv(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("recognizer.command", "python3")
	v.SetDefault("recognizer.script", "interbrain-transcribe.py")
	v.SetDefault("recognizer.model", "small.en")
	v.SetDefault("recognizer.language", "en")
	v.SetDefault("recognizer.record_audio", true)
	v.SetDefault("recognizer.stop_timeout", 2*time.Second)

	v.SetDefault("search.capacity", 500)
	v.SetDefault("search.cooldown", 5*time.Second)
	v.SetDefault("search.min_chars", 3)
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.include_snippets", true)
	v.SetDefault("search.republish_delay", 1500*time.Millisecond)

	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.simple_model", "gpt-4o-mini")
	v.SetDefault("ai.complex_model", "gpt-4o")
	v.SetDefault("ai.max_tokens", 2000)
	v.SetDefault("ai.temperature", 0.3)

	v.SetDefault("graph.uri", "bolt://localhost:7687")
	v.SetDefault("graph.username", "")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.database", "memgraph")

	v.SetDefault("share.command", "rad")
	v.SetDefault("share.clone_base_url", "interbrain://clone")
	v.SetDefault("share.cache_ttl", 30*time.Minute)
	v.SetDefault("share.concurrency", 4)

	v.SetDefault("audio.ffmpeg", "ffmpeg")

	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")

	v.SetDefault("log.verbose", false)
}

// applyWellKnownEnv lets the conventional variable names win over config values.
func applyWellKnownEnv(cfg *Config) {
	cfg.AI.APIKey = getEnvDefault("OPENAI_API_KEY", cfg.AI.APIKey)
	cfg.AI.BaseURL = getEnvDefault("OPENAI_BASE_URL", cfg.AI.BaseURL)
	cfg.Graph.URI = getEnvDefault("NEO4J_URI", cfg.Graph.URI)
	cfg.Graph.Username = getEnvDefault("NEO4J_USER", cfg.Graph.Username)
	cfg.Graph.Password = getEnvDefault("NEO4J_PASSWORD", cfg.Graph.Password)
	cfg.Graph.Database = getEnvDefault("NEO4J_DATABASE", cfg.Graph.Database)
	cfg.Mail.Host = getEnvDefault("SMTP_HOST", cfg.Mail.Host)
	cfg.Mail.Username = getEnvDefault("SMTP_USER", cfg.Mail.Username)
	cfg.Mail.Password = getEnvDefault("SMTP_PASSWORD", cfg.Mail.Password)
	cfg.Mail.From = getEnvDefault("SMTP_FROM", cfg.Mail.From)
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".copilot")
}

// Paths holds standard copilot directory paths.
type Paths struct {
	// Home is the copilot home directory (~/.copilot)
	Home string

	// Data holds the session archive database (~/.copilot/data)
	Data string

	// Transcripts holds live and archived transcripts (~/.copilot/transcripts)
	Transcripts string

	// Recordings holds call recordings and clips (~/.copilot/recordings)
	Recordings string

	// Outbox holds message drafts and attachments (~/.copilot/outbox)
	Outbox string

	// Alerts holds user notifications (~/.copilot/alerts)
	Alerts string

	// Logs holds the diagnostic log (~/.copilot/logs)
	Logs string

	// EnvFile is the .env file path (~/.copilot/.env)
	EnvFile string
}

// NewPaths derives all paths from a home directory.
func NewPaths(home string) Paths {
	return Paths{
		Home:        home,
		Data:        filepath.Join(home, "data"),
		Transcripts: filepath.Join(home, "transcripts"),
		Recordings:  filepath.Join(home, "recordings"),
		Outbox:      filepath.Join(home, "outbox"),
		Alerts:      filepath.Join(home, "alerts"),
		Logs:        filepath.Join(home, "logs"),
		EnvFile:     filepath.Join(home, ".env"),
	}
}

// Path returns a path under the copilot home directory.
func (p Paths) Path(parts ...string) string {
	return filepath.Join(append([]string{p.Home}, parts...)...)
}

// EnsureDirs creates every directory in p.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Home, p.Data, p.Transcripts, p.Recordings, p.Outbox, p.Alerts, p.Logs} {
		if err := EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
