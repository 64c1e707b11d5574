package service

import (
	"reflect"
	"sync"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
)

// ResultsStore accumulates handler results over one run and answers the
// lookups downstream handlers make (the SQS handler attaches prior results to
// its messages).
type ResultsStore struct {
	mu      sync.RWMutex
	results []domain.HandlerResult
}

func NewResultsStore() *ResultsStore {
	return &ResultsStore{}
}

func (s *ResultsStore) Append(result domain.HandlerResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
}

func (s *ResultsStore) All() []domain.HandlerResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.HandlerResult, len(s.results))
	copy(out, s.results)
	return out
}

func (s *ResultsStore) ByHandler(name string) []domain.HandlerResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.HandlerResult
	for _, r := range s.results {
		if r.Handler == name {
			out = append(out, r)
		}
	}
	return out
}

// ByField returns every result carrying the named extra field with a
// matching value.
func (s *ResultsStore) ByField(field string, value any) []domain.HandlerResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.HandlerResult
	for _, r := range s.results {
		if v, ok := r.Field(field); ok && reflect.DeepEqual(v, value) {
			out = append(out, r)
		}
	}
	return out
}
