// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package commons

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide structured logger contract. All packages
// accept this interface rather than a concrete zap logger so tests can swap
// in a no-op or capturing implementation.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Sync() error
}

type applicationLogger struct {
	*zap.SugaredLogger
}

// LoggerOption customises logger construction.
type LoggerOption func(*loggerOptions)

type loggerOptions struct {
	level    zapcore.Level
	filePath string
}

// WithLevel sets the minimum log level ("debug", "info", "warn", "error").
// Unknown levels fall back to info.
func WithLevel(level string) LoggerOption {
	return func(o *loggerOptions) {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			o.level = parsed
		}
	}
}

// WithRotatingFile tees log output into a size-rotated file in addition to
// stdout. Rotation keeps 5 backups of 100MB each.
func WithRotatingFile(path string) LoggerOption {
	return func(o *loggerOptions) {
		o.filePath = path
	}
}

// NewApplicationLogger builds the standard service logger: JSON encoding,
// ISO8601 timestamps, stdout plus optional rotated file output.
func NewApplicationLogger(opts ...LoggerOption) (Logger, error) {
	options := loggerOptions{level: zapcore.InfoLevel}
	for _, opt := range opts {
		opt(&options)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if options.filePath != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   options.filePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.NewMultiWriteSyncer(sinks...),
		options.level,
	)
	logger := zap.New(core, zap.AddCaller())
	return &applicationLogger{logger.Sugar()}, nil
}
