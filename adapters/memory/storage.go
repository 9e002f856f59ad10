package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is a concurrent in-memory Storage implementation.
type Store struct {
	entries sync.Map // map[string]*record
}

type record struct {
	mu      sync.Mutex
	value   string
	updated time.Time
}

func New() *Store { return &Store{} }

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.entries.Load(key)
	if !ok {
		return "", false, nil
	}
	rec := v.(*record)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.value, true, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	v, _ := s.entries.LoadOrStore(key, &record{})
	rec := v.(*record)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.value = value
	rec.updated = time.Now().UTC()
	return nil
}

// Keys lists stored keys, sorted.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	var out []string
	s.entries.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out, nil
}

var _ interface {
	Get(context.Context, string) (string, bool, error)
	Set(context.Context, string, string) error
} = (*Store)(nil)
