// Package logging provides structured JSON logging for copilot components.
// Events go to a rotating diagnostic log; users never see them directly.
package logging

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var base atomic.Pointer[zap.Logger]

func init() {
	base.Store(zap.NewNop())
}

// Options configure the diagnostic log.
type Options struct {
	// File is the rotating JSON log path (empty disables the file core)
	File string

	// Verbose mirrors debug-level events to Console
	Verbose bool

	// Console receives human readable output when Verbose is set (default stderr)
	Console io.Writer
}

// Setup installs the process-wide log core. Call once at startup.
// The returned function flushes buffered entries.
func Setup(opts Options) func() error {
	var cores []zapcore.Core

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}

		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "ts"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.MessageKey = "event"

		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotator),
			zap.DebugLevel,
		))
	}

	if opts.Verbose {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.Lock(zapcore.AddSync(console)),
			zap.DebugLevel,
		))
	}

	if len(cores) == 0 {
		UseCore(zapcore.NewNopCore())
	} else {
		UseCore(zapcore.NewTee(cores...))
	}

	return func() error { return base.Load().Sync() }
}

// UseCore replaces the process-wide core. Tests use it with zaptest/observer.
func UseCore(core zapcore.Core) {
	base.Store(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)))
}

// Logger provides structured logging for one component.
type Logger struct {
	component string
	session   string
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{component: component}
}

// WithSession sets the session context
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		component: l.component,
		session:   sessionID,
	}
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) fields(extra map[string]interface{}, err error) []zap.Field {
	fields := make([]zap.Field, 0, 4)
	fields = append(fields, zap.String("component", l.component))
	if l.session != "" {
		fields = append(fields, zap.String("session", l.session))
	}
	if len(extra) > 0 {
		fields = append(fields, zap.Any("extra", extra))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	return fields
}

func (l *Logger) log(level zapcore.Level, event string, extra map[string]interface{}, err error) {
	z := base.Load()
	if ce := z.Check(level, event); ce != nil {
		ce.Write(l.fields(extra, err)...)
	}
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	l.log(zapcore.DebugLevel, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	l.log(zapcore.InfoLevel, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	l.log(zapcore.WarnLevel, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	l.log(zapcore.ErrorLevel, event, extra, err)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	z := base.Load()
	if ce := z.Check(zapcore.InfoLevel, event); ce != nil {
		fields := l.fields(extra, nil)
		fields = append(fields, zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		ce.Write(fields...)
	}
}
