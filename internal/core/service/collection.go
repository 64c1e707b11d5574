package service

import (
	"context"
	stderrs "errors"
	"fmt"
	"sync"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/errors"
)

// HandlersCollection owns the configured handler instances and runs the
// (action, stage) batches around every terraform invocation. It is populated
// during bootstrap, frozen, and then only read.
type HandlersCollection struct {
	mu       sync.RWMutex
	handlers []ports.Handler
	byName   map[string]ports.Handler
	results  *ResultsStore
	logger   ports.Logger
	frozen   bool
}

func NewHandlersCollection(logger ports.Logger) *HandlersCollection {
	return &HandlersCollection{
		byName:  make(map[string]ports.Handler),
		results: NewResultsStore(),
		logger:  logger.WithFields(map[string]any{"component": "handlers"}),
	}
}

func (c *HandlersCollection) Add(handler ports.Handler) error {
	if handler == nil {
		return errors.New(errors.CodeInternal, "attempted to add nil handler")
	}
	name := handler.Name()
	if name == "" {
		return errors.New(errors.CodeInternal, "handler name cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return errors.New(errors.CodeInternal, fmt.Sprintf("handlers collection is frozen, cannot add %q", name))
	}
	if _, exists := c.byName[name]; exists {
		return errors.New(errors.CodeInternal, fmt.Sprintf("handler %q already added", name))
	}
	c.byName[name] = handler
	c.handlers = append(c.handlers, handler)
	return nil
}

// Freeze ends the population phase. Later Adds fail.
func (c *HandlersCollection) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

func (c *HandlersCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers)
}

// Results exposes the run's accumulated handler results.
func (c *HandlersCollection) Results() ports.ResultsReader {
	return c.results
}

// ExecHandlers runs every ready handler that declares req.Action, in
// scheduler order, strictly sequentially. A result returned by a handler is
// captured before the next handler runs, so later handlers in the same batch
// can already query it.
//
// An error whose Terminate flag is false is logged and the batch continues;
// any other error, flagged terminate or not carrying the flag at all, aborts
// the batch immediately and propagates.
func (c *HandlersCollection) ExecHandlers(ctx context.Context, req ports.HandlerRequest) error {
	candidates := c.readyFor(ctx, req.Action)
	if len(candidates) == 0 {
		return nil
	}

	order, err := c.scheduleOrder(ctx, candidates, req.Action, req.Stage)
	if err != nil {
		return err
	}

	req.Results = c.results
	for _, h := range order {
		c.logger.Debugf(ctx, "executing handler %s for %s/%s", h.Name(), req.Action, req.Stage)
		result, err := h.Execute(ctx, req)
		if err != nil {
			var hErr *domain.HandlerError
			if stderrs.As(err, &hErr) && !hErr.Terminate {
				c.logger.Errorf(ctx, err, "handler %s failed, continuing with remaining handlers", h.Name())
				continue
			}
			return err
		}
		if result != nil {
			c.results.Append(*result)
		}
	}
	return nil
}

func (c *HandlersCollection) readyFor(ctx context.Context, action domain.Action) []ports.Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ports.Handler
	for _, h := range c.handlers {
		if !declaresAction(h, action) {
			continue
		}
		if !h.IsReady(ctx) {
			c.logger.Debugf(ctx, "handler %s is not ready, skipping", h.Name())
			continue
		}
		out = append(out, h)
	}
	return out
}

func declaresAction(h ports.Handler, action domain.Action) bool {
	for _, a := range h.Actions() {
		if a == action {
			return true
		}
	}
	return false
}
