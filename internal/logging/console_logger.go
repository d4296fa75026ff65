package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

// ConsoleLogger writes human readable lines, normally to stderr:
//
//	2024-05-01 10:00:00 INFO  [1a2b3c4d] Folder synced folder=docs, seen=12
type ConsoleLogger struct {
	core            zapcore.Core
	level           *levelHolder
	traceID         string
	colorEnabled    bool
	redactSensitive bool
}

// ConsoleLoggerConfig contains configuration for console logger
type ConsoleLoggerConfig struct {
	Writer           io.Writer
	Level            LogLevel
	ColorEnabled     bool
	TimestampEnabled bool
	RedactSensitive  bool
}

// NewConsoleLogger creates a new console logger
func NewConsoleLogger(config ConsoleLoggerConfig) *ConsoleLogger {
	if config.Writer == nil {
		config.Writer = os.Stderr
	}

	encCfg := zapcore.EncoderConfig{
		LevelKey:         "level",
		MessageKey:       "message",
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " ",
		EncodeLevel:      consoleLevelEncoder(config.ColorEnabled),
	}
	if config.TimestampEnabled {
		encCfg.TimeKey = "time"
		encCfg.EncodeTime = consoleTimeEncoder(config.ColorEnabled)
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(config.Writer)),
		zapcore.DebugLevel,
	)

	return &ConsoleLogger{
		core:            core,
		level:           &levelHolder{level: config.Level},
		colorEnabled:    config.ColorEnabled,
		redactSensitive: config.RedactSensitive,
	}
}

func consoleLevelEncoder(color bool) zapcore.LevelEncoder {
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := fmt.Sprintf("%-5s", level.CapitalString())
		if !color {
			enc.AppendString(name)
			return
		}
		code := colorReset
		switch level {
		case zapcore.DebugLevel:
			code = colorBlue
		case zapcore.WarnLevel:
			code = colorYellow
		case zapcore.ErrorLevel:
			code = colorRed
		}
		enc.AppendString(code + name + colorReset)
	}
}

func consoleTimeEncoder(color bool) zapcore.TimeEncoder {
	return func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		stamp := t.Format(time.DateTime)
		if color {
			stamp = colorGray + stamp + colorReset
		}
		enc.AppendString(stamp)
	}
}

// Patterns for sensitive data redaction
var (
	bearerTokenPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	oauthTokenPattern  = regexp.MustCompile(`(access_token|refresh_token|id_token)["']?\s*[:=]\s*["']?[A-Za-z0-9\-._~+/]+=*`)
	apiKeyPattern      = regexp.MustCompile(`(?i)(api[_-]?key|apikey)["']?\s*[:=]\s*["']?[A-Za-z0-9\-._~+/]+=*`)
	authHeaderPattern  = regexp.MustCompile(`(?i)authorization["']?\s*[:=]\s*["']?[^\s"']+`)
	basicAuthPattern   = regexp.MustCompile(`Basic\s+[A-Za-z0-9+/]+=*`)
	passwordPattern    = regexp.MustCompile(`(?i)(password|passwd)["']?\s*[:=]\s*["']?[^\s"',]+`)
)

// redactSensitiveData masks credentials that may end up in messages or
// field values: tokens, Basic auth headers and password assignments.
func redactSensitiveData(s string) string {
	s = bearerTokenPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	s = basicAuthPattern.ReplaceAllString(s, "Basic [REDACTED]")
	s = passwordPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = oauthTokenPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = apiKeyPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = authHeaderPattern.ReplaceAllString(s, "Authorization: [REDACTED]")
	return s
}

// message renders trace id, text and fields into the line body. Fields stay
// key=value so they read the same with or without a terminal.
func (l *ConsoleLogger) message(msg string, fields []Field) string {
	var sb strings.Builder
	if l.traceID != "" {
		trace := fmt.Sprintf("[%s]", shortTraceID(l.traceID))
		if l.colorEnabled {
			trace = colorGray + trace + colorReset
		}
		sb.WriteString(trace)
		sb.WriteString(" ")
	}

	if l.redactSensitive {
		msg = redactSensitiveData(msg)
	}
	sb.WriteString(msg)

	for i, field := range fields {
		if i == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		value := fmt.Sprintf("%v", field.Value)
		if l.redactSensitive {
			value = redactSensitiveData(value)
		}
		sb.WriteString(field.Key)
		sb.WriteString("=")
		sb.WriteString(value)
	}
	return sb.String()
}

func shortTraceID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func (l *ConsoleLogger) log(level LogLevel, msg string, fields ...Field) {
	if level < l.level.get() {
		return
	}
	entry := zapcore.Entry{
		Level:   zapLevel(level),
		Time:    time.Now(),
		Message: l.message(msg, fields),
	}
	_ = l.core.Write(entry, nil)
}

func (l *ConsoleLogger) Debug(msg string, fields ...Field) {
	l.log(DEBUG, msg, fields...)
}

func (l *ConsoleLogger) Info(msg string, fields ...Field) {
	l.log(INFO, msg, fields...)
}

func (l *ConsoleLogger) Warn(msg string, fields ...Field) {
	l.log(WARN, msg, fields...)
}

func (l *ConsoleLogger) Error(msg string, fields ...Field) {
	l.log(ERROR, msg, fields...)
}

// WithTraceID returns a logger on the same writer that tags lines with traceID.
func (l *ConsoleLogger) WithTraceID(traceID string) Logger {
	derived := *l
	derived.traceID = traceID
	return &derived
}

func (l *ConsoleLogger) WithContext(ctx context.Context) Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return l
	}
	return l.WithTraceID(traceID)
}

func (l *ConsoleLogger) SetLevel(level LogLevel) {
	l.level.set(level)
}

// Close flushes nothing: syncing a terminal fails on some platforms.
func (l *ConsoleLogger) Close() error {
	return nil
}
