// Copyright 2020 Anapaya Systems
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

// Package log sets up the process-wide structured logger.
package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info on an
	// empty or unrecognized value.
	Level string
	// Development enables human-readable console output instead of
	// JSON; intended for local runs.
	Development bool
}

// Setup builds the process-wide logger according to cfg. It never returns
// an error; an unparsable level silently falls back to info so that a
// logging misconfiguration never blocks startup.
func Setup(cfg Config) *zap.Logger {
	level := parseLevel(cfg.Level)

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "time"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		// zcfg.Build only fails on a malformed encoder/sink configuration,
		// which the constants above never produce; fall back rather than
		// leave the process without a logger.
		return zap.NewNop()
	}
	return logger
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// Must is a convenience wrapper for call sites that want a logger or a
// hard failure message, e.g. during flag validation before Setup runs.
func Must(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err == nil {
		return
	}
	fields = append(fields, zap.Error(err))
	logger.Fatal(msg, fields...)
}

// SafeLevel renders an error suitable for inclusion in a log field without
// risking a panic on a nil error.
func SafeLevel(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
