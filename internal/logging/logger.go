// Package logging provides categorized structured logging for the
// analyzer. Each pipeline subsystem logs through a named zap logger so
// log lines can be filtered per stage.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryPipeline  Category = "pipeline"
	CategorySegment   Category = "segment"
	CategoryScheduler Category = "scheduler"
	CategoryLLM       Category = "llm"
	CategoryKeyPool   Category = "keypool"
	CategoryRepair    Category = "repair"
	CategoryStore     Category = "store"
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Init installs the process-wide logger. Level is one of debug, info,
// warn, error; unknown values fall back to info. Init may be called
// again (tests do this) and replaces all category loggers.
func Init(level string, development bool) error {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		return err
	}

	mu.Lock()
	root = logger
	loggers = make(map[Category]*zap.SugaredLogger)
	mu.Unlock()
	return nil
}

// Get returns the sugared logger for a category.
func Get(c Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[c]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[c]; ok {
		return l
	}
	l := root.Named(string(c)).Sugar()
	loggers[c] = l
	return l
}

// Sync flushes buffered log entries. Safe to call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
