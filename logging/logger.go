// Copyright (C) 2023 Gobalsky Labs Limited
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// A Level is a logging priority. Higher levels are more important.
type Level int8

// Logging levels (matching zap core internals).
const (
	// DebugLevel logs are typically voluminous, and are usually disabled in
	// production.
	DebugLevel Level = -1
	// InfoLevel is the default logging priority.
	InfoLevel Level = 0
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel Level = 1
	// ErrorLevel logs are high-priority. If an application is running smoothly,
	// it shouldn't generate any error-level logs.
	ErrorLevel Level = 2
	// PanicLevel logs a message, then panics.
	PanicLevel Level = 4
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel Level = 5
)

// ParseLevel parse a log level from a string.
func ParseLevel(l string) (Level, error) {
	switch strings.ToLower(l) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warning", "warn":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "panic":
		return PanicLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return Level(100), fmt.Errorf("log level \"%s\" is not supported", l)
	}
}

// String converts a log level to its string representation.
func (l Level) String() string {
	return zapcore.Level(l).String()
}

// ZapLevel converts to a zapcore.Level.
func (l Level) ZapLevel() zapcore.Level {
	return zapcore.Level(l)
}

// Logger is an abstraction on top of the zap logger.
type Logger struct {
	*zap.Logger
	config *zap.Config
	name   string
}

// levelCore gates a shared core with the level of a single Logger, so
// named loggers can be tuned independently while writing to the same sink.
type levelCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func withLevel(c zapcore.Core, lvl zap.AtomicLevel) zapcore.Core {
	if lc, ok := c.(*levelCore); ok {
		c = lc.Core
	}
	return &levelCore{Core: c, level: lvl}
}

func (c *levelCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), level: c.level}
}

func (c *levelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

func (log *Logger) Clone() *Logger {
	newConfig := cloneConfig(log.config)
	return &Logger{
		Logger: log.Logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return withLevel(c, newConfig.Level)
		})),
		config: newConfig,
		name:   log.name,
	}
}

func (log *Logger) GetLevel() Level {
	return (Level)(log.config.Level.Level())
}

func (log *Logger) GetLevelString() string {
	return log.config.Level.String()
}

func (log *Logger) GetName() string {
	return log.name
}

// Named instantiates a new logger from the current one, adding a named
// segment to it, e.g. "settlement" on top of "swapcore" gives "swapcore.settlement".
func (log *Logger) Named(name string) *Logger {
	c := log.Clone()
	newName := ""
	if log.name == "" {
		newName = name
	} else {
		newName = fmt.Sprintf("%s.%s", log.name, name)
	}
	return &Logger{
		Logger: c.Logger.Named(name),
		config: c.config,
		name:   newName,
	}
}

func newLogger(core zapcore.Core, cfg *zap.Config) *Logger {
	return &Logger{
		Logger: zap.New(withLevel(core, cfg.Level), zap.AddCaller()),
		config: cfg,
	}
}

// SetLevel changes the level of this logger only, loggers it was cloned
// from keep their own level.
func (log *Logger) SetLevel(level Level) {
	lvl := (zapcore.Level)(level)
	if log.config.Level.Level() == lvl {
		return
	}
	log.config.Level.SetLevel(lvl)
}

// IsDebug returns true if the logger level is debug.
func (log *Logger) IsDebug() bool {
	return log.config.Level.Level() == zapcore.DebugLevel
}

func (log *Logger) With(fields ...zap.Field) *Logger {
	c := log.Clone()
	return &Logger{
		Logger: c.Logger.With(fields...),
		config: c.config,
		name:   c.name,
	}
}

// AtExit flushes the logs before exiting the process. Useful when an
// app shuts down so we store all logging possible. This is meant to be used
// with defer when initializing your logger.
func (log *Logger) AtExit() {
	if log.Logger != nil {
		_ = log.Logger.Sync()
	}
}

func cloneConfig(cfg *zap.Config) *zap.Config {
	c := zap.Config{
		Level:             zap.NewAtomicLevelAt(cfg.Level.Level()),
		Development:       cfg.Development,
		DisableCaller:     cfg.DisableCaller,
		DisableStacktrace: cfg.DisableStacktrace,
		Sampling:          nil,
		Encoding:          cfg.Encoding,
		EncoderConfig:     cfg.EncoderConfig,
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  cfg.ErrorOutputPaths,
		InitialFields:     make(map[string]interface{}),
	}
	for k, v := range cfg.InitialFields {
		c.InitialFields[k] = v
	}
	if cfg.Sampling != nil {
		c.Sampling = &zap.SamplingConfig{
			Initial:    cfg.Sampling.Initial,
			Thereafter: cfg.Sampling.Thereafter,
		}
	}
	return &c
}

func devEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		CallerKey:      "C",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeName:     zapcore.FullNameEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		LevelKey:       "L",
		LineEnding:     "\n",
		MessageKey:     "M",
		NameKey:        "N",
		TimeKey:        "T",
	}
}

func prodEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeName:     zapcore.FullNameEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		LevelKey:       "level",
		LineEnding:     "\n",
		MessageKey:     "message",
		NameKey:        "logger",
		StacktraceKey:  "stacktrace",
		TimeKey:        "@timestamp",
	}
}

// NewDevLogger creates a console logger at debug level.
func NewDevLogger() *Logger {
	return NewLoggerFromConfig(Config{Environment: "dev"})
}

// NewProdLogger creates a json logger at info level.
func NewProdLogger() *Logger {
	return NewLoggerFromConfig(Config{Environment: "prod"})
}

// NewTestLogger creates a logger which discards everything below error,
// keeping test output readable.
func NewTestLogger() *Logger {
	log := NewLoggerFromConfig(Config{Environment: "dev"})
	log.SetLevel(ErrorLevel)
	return log
}

// NewLoggerFromConfig builds a logger from the logging section of the
// configuration. When a file is configured it is rotated with lumberjack.
func NewLoggerFromConfig(cfg Config) *Logger {
	var (
		encoderConfig zapcore.EncoderConfig
		encoder       zapcore.Encoder
		level         zapcore.Level
		encoding      string
		dev           bool
	)

	switch cfg.Environment {
	case "dev":
		encoderConfig = devEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
		level = zapcore.Level(DebugLevel)
		encoding = "console"
		dev = true
	default:
		encoderConfig = prodEncoderConfig()
		encoder = zapcore.NewJSONEncoder(encoderConfig)
		level = zapcore.Level(InfoLevel)
		encoding = "json"
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      dev,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	sink := zapcore.AddSync(os.Stdout)
	if cfg.File != "" {
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}))
		config.OutputPaths = append(config.OutputPaths, cfg.File)
	}

	core := zapcore.NewCore(encoder, sink, zapcore.DebugLevel)
	return newLogger(core, &config)
}

// Errorf implement the sugared printf style logger.
func (log *Logger) Errorf(s string, args ...interface{}) {
	log.Logger.WithOptions(zap.AddCallerSkip(1)).Sugar().Errorf(strings.TrimSpace(s), args...)
}

// Warningf implement the sugared printf style logger.
func (log *Logger) Warningf(s string, args ...interface{}) {
	log.Logger.WithOptions(zap.AddCallerSkip(1)).Sugar().Warnf(strings.TrimSpace(s), args...)
}

// Infof implement the sugared printf style logger.
func (log *Logger) Infof(s string, args ...interface{}) {
	log.Logger.WithOptions(zap.AddCallerSkip(1)).Sugar().Infof(strings.TrimSpace(s), args...)
}

// Debugf implement the sugared printf style logger.
func (log *Logger) Debugf(s string, args ...interface{}) {
	log.Logger.WithOptions(zap.AddCallerSkip(1)).Sugar().Debugf(strings.TrimSpace(s), args...)
}
