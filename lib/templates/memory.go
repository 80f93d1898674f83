package templates

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]Template
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[string]Template)}
}

func (s *MemoryStore) Upsert(ctx context.Context, t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &t, nil
}

func (s *MemoryStore) Find(ctx context.Context, key string) (*Template, error) {
	all, _ := s.List(ctx)
	t, ok := lo.Find(all, func(t Template) bool {
		return t.ID == key || t.Tag == key || t.Name == key
	})
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return &t, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Values(s.templates)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.templates, id)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.templates)), nil
}

func (s *MemoryStore) Reconcile(ctx context.Context, templates []Template) ([]string, error) {
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keep := lo.SliceToMap(templates, func(t Template) (string, Template) { return t.ID, t })
	var pruned []string
	for id := range s.templates {
		if _, ok := keep[id]; !ok {
			pruned = append(pruned, id)
		}
	}
	slices.Sort(pruned)

	for _, id := range pruned {
		delete(s.templates, id)
	}
	for id, t := range keep {
		s.templates[id] = t
	}
	return pruned, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
