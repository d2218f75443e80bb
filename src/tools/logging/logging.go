// Copyright 2016 NDP Systèmes. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logging

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// log is the base logger of the framework. It discards everything until
// Initialize is called.
var log = &zapLogger{zap: zap.NewNop().Sugar()}

// A Logger writes logs to a handler
type Logger interface {
	// Panic logs a error level message then panics
	Panic(msg string, ctx ...interface{})
	// Error logs an error level message
	Error(msg string, ctx ...interface{})
	// Warn logs a warning level message
	Warn(msg string, ctx ...interface{})
	// Info logs an information level message
	Info(msg string, ctx ...interface{})
	// Debug logs a debug level message. This may be very verbose
	Debug(msg string, ctx ...interface{})
	// New returns a child logger with the given context
	New(ctx ...interface{}) Logger
	// Sync the logger cache
	Sync() error
}

// zapLogger is an implementation of logger using Uber's zap library
type zapLogger struct {
	zap    *zap.SugaredLogger
	ctx    []interface{}
	parent *zapLogger
	// root is the zap logger of the parent at the time zap was derived
	root *zap.SugaredLogger
	mu   sync.Mutex
}

// Panic logs a error level message then panics
func (l *zapLogger) Panic(msg string, ctx ...interface{}) {
	l.backend().Errorw(msg, ctx...)
	panicData := msg + "\n"
	for i := 0; i+1 < len(ctx); i += 2 {
		panicData += fmt.Sprintf("\t%v : %v\n", ctx[i], ctx[i+1])
	}
	panic(panicData)
}

// Error logs an error level message
func (l *zapLogger) Error(msg string, ctx ...interface{}) {
	l.backend().Errorw(msg, ctx...)
}

// Warn logs a warning level message
func (l *zapLogger) Warn(msg string, ctx ...interface{}) {
	l.backend().Warnw(msg, ctx...)
}

// Info logs an information level message
func (l *zapLogger) Info(msg string, ctx ...interface{}) {
	l.backend().Infow(msg, ctx...)
}

// Debug logs a debug level message. This may be very verbose
func (l *zapLogger) Debug(msg string, ctx ...interface{}) {
	l.backend().Debugw(msg, ctx...)
}

// Sync the logger cache
func (l *zapLogger) Sync() error {
	b := l.backend()
	if b == nil {
		return errors.New("syncing a non-initialized logger")
	}
	return b.Sync()
}

// New returns a child logger with the given context
func (l *zapLogger) New(ctx ...interface{}) Logger {
	return &zapLogger{
		ctx:    ctx,
		parent: l,
	}
}

// backend returns the zap logger to use for this logger.
//
// Child loggers are created in init functions, before the base logger is
// initialized, so the zap backend is derived lazily from the parent and
// rebuilt whenever the parent's backend changes.
func (l *zapLogger) backend() *zap.SugaredLogger {
	if l.parent == nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.zap
	}
	parent := l.parent.backend()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.zap == nil || l.root != parent {
		l.zap = parent.With(l.ctx...)
		l.root = parent
	}
	return l.zap
}

// Initialize starts the base logger used by all erpkit components
func Initialize() {
	logConfig := zap.NewProductionConfig()
	if viper.GetBool("Debug") {
		logConfig = zap.NewDevelopmentConfig()
	}
	logLevel := zap.NewAtomicLevel()
	err := logLevel.UnmarshalText([]byte(viper.GetString("LogLevel")))
	if err != nil {
		fmt.Printf("error while reading log level. Falling back to info. Error: %s\n", err.Error())
		logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logConfig.Level = logLevel
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var outputPaths []string
	if viper.GetBool("LogStdout") {
		outputPaths = append(outputPaths, "stdout")
	}
	if path := viper.GetString("LogFile"); path != "" {
		outputPaths = append(outputPaths, path)
	}
	if len(outputPaths) == 0 {
		outputPaths = []string{"stderr"}
	}
	logConfig.OutputPaths = outputPaths

	plainLog, err := logConfig.Build()
	if err != nil {
		panic(err)
	}
	log.mu.Lock()
	log.zap = plainLog.Sugar()
	log.mu.Unlock()

	log.Info("erpkit starting...")
}

// GetLogger returns a context logger for the given module
func GetLogger(moduleName string) Logger {
	return log.New("module", moduleName)
}

// LogPanicData logs the panic data with stacktrace and returns a system
// error with the panic message.
func LogPanicData(panicData interface{}) error {
	if err, ok := panicData.(error); ok && exceptions.As(err) != nil {
		return err
	}
	msg := fmt.Sprintf("%v", panicData)
	stackTrace := debug.Stack()
	log.Error("erpkit panicked", "msg", msg, "stack", string(stackTrace))
	err := exceptions.Systemf("panic", "%s", msg)
	err.Debug = fmt.Sprintf("%s\n\n%s", msg, stackTrace)
	return err
}

// LogForGin returns a gin.HandlerFunc (middleware) that logs requests using Logger.
//
// Requests with errors are logged using Error().
// Requests without errors are logged using Info().
func LogForGin(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// some evil middlewares modify this value
		path := c.Request.URL.Path
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		ctxLogger := logger.New(
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"ip", c.ClientIP(),
			"latency", latency,
		)

		switch {
		case len(c.Errors) > 0:
			ctxLogger.Error(c.Errors.String())
		case status >= 400:
			ctxLogger.Warn("HTTP Error")
		default:
			ctxLogger.Info("")
		}
	}
}
