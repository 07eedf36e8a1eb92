package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// OutputConfig describes where and how the command-line tools write logs.
type OutputConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// InitLogrus builds a JSON logrus logger from cfg.
//
// With an empty FilePath the logger writes to stdout. Otherwise it writes to a
// lumberjack-rotated file; if the log directory cannot be created the logger
// falls back to stdout and reports the problem as its first warning.
func InitLogrus(cfg OutputConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: parse level: %w", err)
	}

	output, outErr := buildOutput(cfg)

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.FilePath,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

func buildOutput(cfg OutputConfig) (io.Writer, error) {
	if cfg.FilePath == "" {
		return os.Stdout, nil
	}

	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.Stdout, fmt.Errorf("logging: create log dir: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}

// LogrusLogger adapts a logrus entry to the Logger interface.
//
// Namespace prefixes such as "[steal] " are lifted out of the message into a
// "component" field. Fatalf logs at error level with fatal=true and never
// calls logrus' own Fatal, which would exit the process.
type LogrusLogger struct {
	entry        *logrus.Entry
	fatalHandler atomic.Pointer[FatalHandler]
}

// NewLogrus wraps l.
func NewLogrus(l *logrus.Logger) *LogrusLogger {
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// WithField returns a logger that adds key=value to every message.
// The fatal handler is not inherited.
func (l *LogrusLogger) WithField(key string, value any) *LogrusLogger {
	return &LogrusLogger{entry: l.entry.WithField(key, value)}
}

// SetFatalHandler sets the handler called when Fatalf is invoked.
func (l *LogrusLogger) SetFatalHandler(h FatalHandler) {
	l.fatalHandler.Store(&h)
}

// Errorf implements Logger.
func (l *LogrusLogger) Errorf(format string, args ...any) {
	l.log(logrus.ErrorLevel, format, args)
}

// Warnf implements Logger.
func (l *LogrusLogger) Warnf(format string, args ...any) {
	l.log(logrus.WarnLevel, format, args)
}

// Infof implements Logger.
func (l *LogrusLogger) Infof(format string, args ...any) {
	l.log(logrus.InfoLevel, format, args)
}

// Debugf implements Logger.
func (l *LogrusLogger) Debugf(format string, args ...any) {
	l.log(logrus.DebugLevel, format, args)
}

// Fatalf implements Logger.
func (l *LogrusLogger) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	component, text := splitNamespace(msg)
	e := l.entry.WithField("fatal", true)
	if component != "" {
		e = e.WithField("component", component)
	}
	e.Error(text)

	if h := l.fatalHandler.Load(); h != nil {
		(*h)(msg)
	}
}

func (l *LogrusLogger) log(level logrus.Level, format string, args []any) {
	if !l.entry.Logger.IsLevelEnabled(level) {
		return
	}
	component, text := splitNamespace(fmt.Sprintf(format, args...))
	e := l.entry
	if component != "" {
		e = e.WithField("component", component)
	}
	e.Log(level, text)
}

// splitNamespace splits "[name] text" into ("name", "text").
func splitNamespace(msg string) (string, string) {
	if !strings.HasPrefix(msg, "[") {
		return "", msg
	}
	end := strings.Index(msg, "] ")
	if end < 0 {
		return "", msg
	}
	return msg[1:end], msg[end+2:]
}
