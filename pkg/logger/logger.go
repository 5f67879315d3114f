package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

// Init initializes the global logger. Environment "dev" gets a colorized
// console encoder; everything else logs production JSON.
func Init(service, env, level string) {
	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	log = l.With(zap.String("service", service))
	sugar = log.Sugar()
}

// L returns the base structured logger (for performance-sensitive paths).
func L() *zap.Logger {
	if log == nil {
		Init("engine", "dev", "info")
	}
	return log
}

// S returns the sugared logger (for convenience).
func S() *zap.SugaredLogger {
	if sugar == nil {
		Init("engine", "dev", "info")
	}
	return sugar
}

// Sync flushes any buffered logs (defer this in main()).
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
