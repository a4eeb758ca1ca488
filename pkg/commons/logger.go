// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package commons

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging surface every component receives in its constructor.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Fatalf(template string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Benchmark logs how long a named operation took.
	Benchmark(functionName string, duration time.Duration)

	// With returns a child logger carrying the given key/value pairs.
	With(keysAndValues ...interface{}) Logger

	Sync() error
}

type applicationLogger struct {
	*zap.SugaredLogger
}

type loggerOptions struct {
	name       string
	level      string
	path       string
	production bool
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
}

// Option customises NewApplicationLogger.
type Option func(*loggerOptions)

func Name(name string) Option {
	return func(o *loggerOptions) { o.name = name }
}

func Level(level string) Option {
	return func(o *loggerOptions) { o.level = level }
}

// Path enables a rotated file sink next to stdout.
func Path(path string) Option {
	return func(o *loggerOptions) { o.path = path }
}

// EnableProduction switches the stdout encoder to JSON.
func EnableProduction() Option {
	return func(o *loggerOptions) { o.production = true }
}

// NewApplicationLogger builds the zap backed logger. With no options it logs
// at debug level to stdout using the console encoder.
func NewApplicationLogger(opts ...Option) (Logger, error) {
	o := &loggerOptions{
		name:       "callcenter",
		level:      "debug",
		maxSizeMB:  100,
		maxBackups: 5,
		maxAgeDays: 7,
	}
	for _, opt := range opts {
		opt(o)
	}

	level, err := zapcore.ParseLevel(o.level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var stdoutEncoder zapcore.Encoder
	if o.production {
		stdoutEncoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		stdoutEncoder = zapcore.NewConsoleEncoder(consoleConfig)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stdoutEncoder, zapcore.AddSync(os.Stdout), level),
	}
	if o.path != "" {
		rotator := &lumberjack.Logger{
			Filename:   o.path,
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
			MaxAge:     o.maxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Named(o.name)
	return &applicationLogger{SugaredLogger: logger.Sugar()}, nil
}

func (l *applicationLogger) Benchmark(functionName string, duration time.Duration) {
	l.SugaredLogger.Debugw("benchmark", "function", functionName, "time_taken_ms", duration.Milliseconds())
}

func (l *applicationLogger) With(keysAndValues ...interface{}) Logger {
	return &applicationLogger{SugaredLogger: l.SugaredLogger.With(keysAndValues...)}
}
