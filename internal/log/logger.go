// Package log provides structured logging for hnxc using zap.
package log

import (
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with syscall-specific helpers.
type Logger struct {
	*zap.Logger
}

var (
	// L is the global logger instance. NewNop until Init is called.
	L    = NewNop()
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	// Shorter timestamps in development
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// Guest output goes to stdout; keep the log on stderr.
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to no-op if config fails
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Syscall logs one trampoline round trip at debug level.
func (l *Logger) Syscall(target, name string, nr uint64, args []uint64, ret int64) {
	if ce := l.Check(zap.DebugLevel, "syscall"); ce != nil {
		ce.Write(
			zap.String("table", target),
			zap.String("fn", name),
			zap.Uint64("nr", nr),
			Args(args),
			zap.Int64("ret", ret),
		)
	}
}

// Trap logs a trap taken by the emulated CPU.
func (l *Logger) Trap(session string, pc, nr uint64) {
	l.Debug("trap",
		zap.String("session", session),
		Addr(pc),
		zap.Uint64("nr", nr),
	)
}

// Hex formats a uint64 as hex string for logging.
func Hex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Ptr creates a pointer field.
func Ptr(name string, ptr uint64) zap.Field {
	return zap.String(name, Hex(ptr))
}

// Fn creates a function name field.
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}

// Args creates a field holding syscall argument words in hex.
func Args(args []uint64) zap.Field {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = Hex(a)
	}
	return zap.Strings("args", out)
}
