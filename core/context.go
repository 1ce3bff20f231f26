package core

import (
	"context"
	"sync"

	"github.com/npipeline/flow/telemetry"
)

// Context is the per-run bag threaded through node execution: cancellation,
// logging, and run-scoped parameters. It embeds context.Context so it can be
// passed anywhere a context.Context is expected.
type Context struct {
	context.Context
	RunID        string
	NodeID       string
	Logger       telemetry.Logger
	Tracer       any
	ErrorHandler PipelineErrorHandler

	// mu guards params. It is a pointer so every Context derived from the
	// same run via WithNode shares one lock over the one shared map instead
	// of each copy guarding it with its own independent zero-value mutex.
	mu     *sync.RWMutex
	params map[string]any
}

// NewContext creates the root run context.
func NewContext(parent context.Context, runID string, logger telemetry.Logger) *Context {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Context{
		Context: parent,
		RunID:   runID,
		Logger:  logger,
		mu:      &sync.RWMutex{},
		params:  make(map[string]any),
	}
}

// WithNode derives a per-node context: same cancellation scope, lock, and
// param store, a module-scoped logger, and NodeID set.
func (c *Context) WithNode(nodeID string) *Context {
	logger := c.Logger
	if logger != nil {
		logger = logger.WithModule(nodeID)
	}
	return &Context{
		Context:      c.Context,
		RunID:        c.RunID,
		NodeID:       nodeID,
		Logger:       logger,
		Tracer:       c.Tracer,
		ErrorHandler: c.ErrorHandler,
		mu:           c.mu,
		params:       c.params,
	}
}

// SetParam records a run-scoped parameter, visible to every node via Param.
func (c *Context) SetParam(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params[key] = value
}

// Param looks up a run-scoped parameter.
func (c *Context) Param(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.params[key]
	return v, ok
}
