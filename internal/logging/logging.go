// Package logging configures the zap logger used by the binaries and
// bridges library log output into it.
package logging

import (
	"os"

	"github.com/pion/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init builds a zap logger writing to stdout. level is one of debug, info,
// warn or error (anything else means info); format "json" selects the JSON
// encoder, anything else the console encoder.
func Init(level, format string) *zap.Logger {
	zapLevel := zapcore.InfoLevel
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapLevel)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// LoggerFactory implements pion's logging.LoggerFactory on top of zap, so
// library components log through the binary's logger. Each scope becomes a
// named child logger.
type LoggerFactory struct {
	base *zap.Logger
}

// NewLoggerFactory returns a factory deriving loggers from base.
func NewLoggerFactory(base *zap.Logger) *LoggerFactory {
	return &LoggerFactory{base: base}
}

// NewLogger implements logging.LoggerFactory.
func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	// Skip the adapter frame so callers show up in the caller field.
	return &zapLeveledLogger{s: f.base.Named(scope).WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// zapLeveledLogger maps pion's levels onto zap. zap has no trace level;
// trace output is logged at debug.
type zapLeveledLogger struct {
	s *zap.SugaredLogger
}

func (l *zapLeveledLogger) Trace(msg string)                          { l.s.Debug(msg) }
func (l *zapLeveledLogger) Tracef(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *zapLeveledLogger) Debug(msg string)                          { l.s.Debug(msg) }
func (l *zapLeveledLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *zapLeveledLogger) Info(msg string)                           { l.s.Info(msg) }
func (l *zapLeveledLogger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *zapLeveledLogger) Warn(msg string)                           { l.s.Warn(msg) }
func (l *zapLeveledLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *zapLeveledLogger) Error(msg string)                          { l.s.Error(msg) }
func (l *zapLeveledLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
