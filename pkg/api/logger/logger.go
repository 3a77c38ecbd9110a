/*
Copyright The Charted Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logger is the process-wide logging sink. Components that take a
// Log func(string, ...interface{}) field are usually handed Debugf.
package logger // import "charted.dev/charted/pkg/api/logger"

import (
	"go.uber.org/zap"
)

var log = zap.NewNop().Sugar()

// Setup replaces the process logger according to level: "debug" builds a
// development logger, "none" a no-op one, anything else production.
func Setup(level string) {
	var zlog *zap.Logger
	switch level {
	case "debug":
		zlog, _ = zap.NewDevelopment(zap.AddCallerSkip(1))
	case "none":
		zlog = zap.NewNop()
	default:
		zlog, _ = zap.NewProduction(zap.AddCallerSkip(1))
	}
	log = zlog.Sugar()
}

// Debugf logs a formatted message at debug level.
func Debugf(fmt string, args ...interface{}) {
	log.Debugf(fmt, args...)
}

// Infof logs a formatted message at info level.
func Infof(fmt string, args ...interface{}) {
	log.Infof(fmt, args...)
}

// Warnf logs a formatted message at warn level.
func Warnf(fmt string, args ...interface{}) {
	log.Warnf(fmt, args...)
}

// Errorf logs a formatted message at error level.
func Errorf(fmt string, args ...interface{}) {
	log.Errorf(fmt, args...)
}

// Fatalf logs a formatted message and exits the process.
func Fatalf(fmt string, args ...interface{}) {
	log.Fatalf(fmt, args...)
}

// Sync flushes buffered log entries, called on shutdown.
func Sync() {
	log.Sync()
}
