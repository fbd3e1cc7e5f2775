// Package rlog wires up the structured logger shared by every subsystem.
package rlog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu   sync.Mutex
	base *zap.Logger = zap.NewNop()
)

// Init installs the process-wide base logger. Called once from cmd/routed;
// subsystems that ran before Init was called keep logging to the no-op
// logger rather than panicking.
func Init(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	mu.Lock()
	base = l
	mu.Unlock()
	return l, nil
}

// Named returns a logger scoped to the given subsystem, e.g. "bgp.fsm".
func Named(name string) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return base.Named(name).Sugar()
}
