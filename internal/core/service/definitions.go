package service

import (
	"fmt"
	"sync"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/errors"
)

// DefinitionsCollection holds the deployment's definitions in declared
// order. Populated during bootstrap, frozen, then only read.
type DefinitionsCollection struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*domain.Definition
	frozen bool
}

func NewDefinitionsCollection() *DefinitionsCollection {
	return &DefinitionsCollection{byName: make(map[string]*domain.Definition)}
}

func (c *DefinitionsCollection) Add(def *domain.Definition) error {
	if def == nil {
		return errors.New(errors.CodeInternal, "attempted to add nil definition")
	}
	if def.Name == "" {
		return errors.New(errors.CodeConfigValidation, "definition name cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return errors.New(errors.CodeInternal, fmt.Sprintf("definitions collection is frozen, cannot add %q", def.Name))
	}
	if _, exists := c.byName[def.Name]; exists {
		return errors.NewUserFacing(errors.CodeConfigValidation,
			fmt.Sprintf("definition %q declared more than once", def.Name),
			"Definition names must be unique within a deployment.")
	}
	c.byName[def.Name] = def
	c.order = append(c.order, def.Name)
	return nil
}

// Freeze ends the population phase. Later Adds fail.
func (c *DefinitionsCollection) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

func (c *DefinitionsCollection) Get(name string) (*domain.Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.byName[name]
	return def, ok
}

func (c *DefinitionsCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Ordered returns the definitions surviving the limit filter in declared
// order. Definitions flagged always_include or always_apply bypass the
// limiter.
func (c *DefinitionsCollection) Ordered(limit []string) []*domain.Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.Definition, 0, len(c.order))
	for _, name := range c.order {
		def := c.byName[name]
		if def.IncludedIn(limit) {
			out = append(out, def)
		}
	}
	return out
}

// Reversed returns Ordered backwards. Destroy tears down in reverse declared
// order so later-created definitions go first.
func (c *DefinitionsCollection) Reversed(limit []string) []*domain.Definition {
	ordered := c.Ordered(limit)
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered
}

// ValidateLimit rejects limit entries that name no declared definition.
// Typos in --limit would otherwise silently no-op an entire run.
func (c *DefinitionsCollection) ValidateLimit(limit []string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, name := range limit {
		if _, ok := c.byName[name]; !ok {
			return errors.NewUserFacing(errors.CodeConfigValidation,
				fmt.Sprintf("limit names unknown definition %q", name),
				"Check --limit against the definitions in your configuration.")
		}
	}
	return nil
}
