package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	"github.com/tfconvoy/tfconvoy/internal/errors"
)

// HandlerFactory builds one configured handler instance from its raw option
// map. Factories close over whatever clients and context the handler type
// needs; option decoding and validation happen inside the factory.
type HandlerFactory func(ctx context.Context, options map[string]any) (ports.Handler, error)

// HandlerRegistry maps configuration names to handler factories.
type HandlerRegistry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{factories: make(map[string]HandlerFactory)}
}

func (r *HandlerRegistry) Register(name string, factory HandlerFactory) error {
	if factory == nil {
		return errors.New(errors.CodeInternal, "attempted to register nil handler factory")
	}
	if name == "" {
		return errors.New(errors.CodeInternal, "handler factory name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.New(errors.CodeInternal, fmt.Sprintf("handler %q already registered", name))
	}
	r.factories[name] = factory
	return nil
}

func (r *HandlerRegistry) Build(ctx context.Context, name string, options map[string]any) (ports.Handler, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.NewUserFacing(errors.CodeConfigValidation,
			fmt.Sprintf("unknown handler %q", name),
			fmt.Sprintf("Known handlers: %s.", strings.Join(r.Known(), ", ")))
	}
	return factory(ctx, options)
}

// Known lists the registered handler names, sorted.
func (r *HandlerRegistry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
