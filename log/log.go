// Package log provides the leveled, structured logger used across the llmq
// module: a thin zap facade narrowed to the key-value call surface the
// module's packages actually depend on. Loggers are always constructed and
// injected explicitly; there is no process-global logger to configure.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging surface injected into every component.
// It is deliberately narrow: key-value logging at four levels, Fatalw for a
// binary's unrecoverable startup paths, and With/Named composition.
type Logger interface {
	Debugw(msg string, keyvals ...interface{})
	Infow(msg string, keyvals ...interface{})
	Warnw(msg string, keyvals ...interface{})
	Errorw(msg string, keyvals ...interface{})
	Fatalw(msg string, keyvals ...interface{})
	With(args ...interface{}) Logger
	Named(s string) Logger
}

type logger struct {
	*zap.SugaredLogger
}

func (l *logger) With(args ...interface{}) Logger {
	return &logger{l.SugaredLogger.With(args...)}
}

func (l *logger) Named(s string) Logger {
	return &logger{l.SugaredLogger.Named(s)}
}

// Levels accepted by New; ordered so a lower value logs more.
const (
	DebugLevel = int(zapcore.DebugLevel)
	InfoLevel  = int(zapcore.InfoLevel)
	WarnLevel  = int(zapcore.WarnLevel)
	ErrorLevel = int(zapcore.ErrorLevel)
)

// ParseLevel maps a configuration level name to a level constant. Unknown
// names, including the empty default, fall back to InfoLevel.
func ParseLevel(name string) int {
	switch name {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// New returns a logger writing to output at the given level. A nil output
// writes to stdout.
func New(output io.Writer, level int, jsonFormat bool) Logger {
	if output == nil {
		output = os.Stdout
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if jsonFormat {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), zapcore.Level(level))
	return &logger{zap.New(core, zap.WithCaller(true)).Sugar()}
}

// Nop returns a logger that discards everything, for fakes and benchmarks.
func Nop() Logger {
	return &logger{zap.NewNop().Sugar()}
}
