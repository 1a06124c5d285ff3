package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/genai-studio/edge-proxy/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultBufferSize is the ring buffer capacity used when none is configured.
const DefaultBufferSize = 1000

// LogEntry represents a single log entry in the buffer
type LogEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Caller    string    `json:"caller,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LogBuffer is a thread-safe ring buffer of recent log entries
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	limit   int
}

// NewBuffer creates a buffer keeping the last size entries.
func NewBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &LogBuffer{
		entries: make([]LogEntry, 0, size),
		limit:   size,
	}
}

// Add appends an entry, evicting the oldest one when full.
func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	if len(b.entries) > b.limit {
		// keep the last limit entries
		b.entries = b.entries[len(b.entries)-b.limit:]
	}
}

// Range returns up to limit entries, newest first, skipping the newest
// offset entries, and the total number of buffered entries.
func (b *LogBuffer) Range(offset, limit int) ([]LogEntry, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := len(b.entries)
	if offset < 0 {
		offset = 0
	}
	if offset >= total || limit <= 0 {
		return []LogEntry{}, total
	}
	if limit > total-offset {
		limit = total - offset
	}

	result := make([]LogEntry, limit)
	for i := range result {
		result[i] = b.entries[total-1-offset-i]
	}
	return result, total
}

// Len returns the number of buffered entries.
func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Clear clears the buffer
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make([]LogEntry, 0, b.limit)
}

// Hook returns a zap hook that copies every entry into the buffer.
func (b *LogBuffer) Hook() func(zapcore.Entry) error {
	return func(entry zapcore.Entry) error {
		caller := ""
		if entry.Caller.Defined {
			caller = entry.Caller.TrimmedPath()
		}
		b.Add(LogEntry{
			Level:     entry.Level.String(),
			Message:   entry.Message,
			Caller:    caller,
			Timestamp: entry.Time,
		})
		return nil
	}
}

// New creates a logger writing JSON to a rotated file and to the console,
// and mirroring every entry into buf when it is not nil.
func New(cfg config.LoggingConfig, buf *LogBuffer) (*zap.Logger, error) {
	// 确保日志目录存在
	if cfg.Output != "" {
		dir := filepath.Dir(cfg.Output)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	// 编码器配置 - JSON格式用于文件
	jsonEncoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// 编码器配置 - 彩色格式用于控制台
	consoleEncoderConfig := jsonEncoderConfig
	consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	fileEncoder := zapcore.NewJSONEncoder(jsonEncoderConfig)
	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderConfig)
	if cfg.Format == "json" {
		// containers usually want machine-readable stdout
		consoleEncoder = zapcore.NewJSONEncoder(jsonEncoderConfig)
	}

	var cores []zapcore.Core

	if cfg.Output != "" {
		lumberjackLogger := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(lumberjackLogger), level))
	}

	// 没有文件输出时总是写控制台
	if cfg.ConsoleOutput || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if buf != nil {
		opts = append(opts, zap.Hooks(buf.Hook()))
	}

	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

// NewDevelopment creates a development logger (console output with color)
func NewDevelopment() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}
