package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string
	// File, when set, also writes JSON logs to a rotating file.
	File string
	// Writer overrides stderr as the console destination.
	Writer io.Writer
}

// New builds a zap logger writing JSON lines to stderr and, optionally, to a
// rotating log file. The returned closer flushes and closes the file; it
// must be called before the process exits.
func New(opts Options) (*zap.Logger, io.Closer, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	var console io.Writer = os.Stderr
	if opts.Writer != nil {
		console = opts.Writer
	}

	cores := []zapcore.Core{
		zapcore.NewCore(defaultEncoder(), zapcore.Lock(zapcore.AddSync(console)), level),
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		writer := defaultRotation()
		writer.Filename = opts.File
		cores = append(cores, zapcore.NewCore(defaultEncoder(), zapcore.AddSync(writer), level))
		closer = writer
	}

	logger := zap.New(zapcore.NewTee(cores...), defaultOptions()...)
	return logger, closer, nil
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func defaultEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func defaultOptions() []zap.Option {
	var stackTraceLevel zap.LevelEnablerFunc = func(level zapcore.Level) bool {
		return level >= zapcore.DPanicLevel
	}
	return []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(stackTraceLevel),
	}
}

func defaultRotation() *lumberjack.Logger {
	return &lumberjack.Logger{
		MaxSize:    100,
		MaxBackups: 5,
		LocalTime:  true,
		Compress:   true,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
