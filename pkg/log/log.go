// Copyright 2023 Trustplane Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides a key value based logging API backed by zap.
package log

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trustplane/trustd/pkg/serrors"
)

// Logger describes the logger interface.
type Logger interface {
	New(ctx ...interface{}) Logger
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Enabled(lvl Level) bool
}

// Level is the log level.
type Level = zapcore.Level

// The log levels.
const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

type logger struct {
	logger *zap.SugaredLogger
}

func (l *logger) New(ctx ...interface{}) Logger {
	return &logger{logger: l.logger.With(ctx...)}
}

func (l *logger) Debug(msg string, ctx ...interface{}) { l.logger.Debugw(msg, ctx...) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.logger.Infow(msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.logger.Warnw(msg, ctx...) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.logger.Errorw(msg, ctx...) }

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Desugar().Core().Enabled(lvl)
}

var root = &logger{logger: zap.NewNop().Sugar()}

// Setup configures the root logger from the given configuration. It must be
// called before the first call to Root.
func Setup(cfg Config) error {
	cfg.InitDefaults()
	lvl, err := zapcore.ParseLevel(cfg.Console.Level)
	if err != nil {
		return serrors.Wrap("parsing log level", err, "level", cfg.Console.Level)
	}
	zCfg := zap.NewProductionConfig()
	zCfg.Level = zap.NewAtomicLevelAt(lvl)
	zCfg.Encoding = cfg.Console.Format
	zCfg.EncoderConfig.TimeKey = "ts"
	zCfg.EncoderConfig.MessageKey = "msg"
	zCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zCfg.DisableStacktrace = true
	zLogger, err := zCfg.Build()
	if err != nil {
		return serrors.Wrap("creating logger", err)
	}
	root = &logger{logger: zLogger.Sugar()}
	return nil
}

// Root returns the root logger. It never returns nil.
func Root() Logger {
	return root
}

// Discard sets the root logger up to discard all entries. Useful in tests.
func Discard() {
	root = &logger{logger: zap.NewNop().Sugar()}
}

// Debug logs at debug level on the root logger.
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }

// Info logs at info level on the root logger.
func Info(msg string, ctx ...interface{}) { root.Info(msg, ctx...) }

// Warn logs at warn level on the root logger.
func Warn(msg string, ctx ...interface{}) { root.Warn(msg, ctx...) }

// Error logs at error level on the root logger.
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }

// New creates a logger with the given context attached.
func New(ctx ...interface{}) Logger {
	return root.New(ctx...)
}

// HandlePanic catches panics and logs them. Every goroutine should defer
// this function as the first statement.
func HandlePanic() {
	if msg := recover(); msg != nil {
		root.Error("Panic", "msg", msg, "stack", string(debug.Stack()))
		panic(fmt.Sprintf("%v", msg))
	}
}
