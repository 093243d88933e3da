// Package logging provides categorized structured logging for apprentice.
// Every subsystem logs through a named zap logger so log output can be
// filtered per category (engine, store, llm, distill, ...).
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryEngine  Category = "engine"  // call path, repair loop
	CategoryStore   Category = "store"   // alignment store operations
	CategoryLLM     Category = "llm"     // provider API calls
	CategoryDistill Category = "distill" // scheduler, router, monitor
	CategoryPrompt  Category = "prompt"  // prompt composition
	CategoryAlign   Category = "align"   // alignment declaration passes
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	sugared = map[Category]*zap.SugaredLogger{}
)

// Initialize builds the process-wide root logger. level is one of
// debug/info/warn/error; development switches to the console encoder.
// Safe to call more than once; the last call wins.
func Initialize(level string, development bool) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	sugared = map[Category]*zap.SugaredLogger{}
	return nil
}

// Get returns the sugared logger for a category. Before Initialize is
// called, loggers are no-ops so library code never fails on logging.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if s, ok := sugared[cat]; ok {
		mu.RUnlock()
		return s
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if s, ok := sugared[cat]; ok {
		return s
	}
	base := root
	if base == nil {
		base = zap.NewNop()
	}
	s := base.Named(string(cat)).Sugar()
	sugared[cat] = s
	return s
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}
