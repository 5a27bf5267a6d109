// Package memory provides an in-memory objectstore.Store used for tests and
// for the synchronous degraded-mode processing path.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/cnabflow/ingestor/internal/objectstore"
)

// Store is a goroutine-safe, in-memory object store keyed by bucket+key.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{buckets: make(map[string]map[string][]byte)}
}

func (s *Store) Put(_ context.Context, bucket, key string, content io.Reader, _ int64) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string][]byte)
	}
	s.buckets[bucket][key] = data
	return nil
}

func (s *Store) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[bucket]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	data, ok := b[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[bucket]; ok {
		delete(b, key)
	}
	return nil
}

func (s *Store) EnsureBucket(_ context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string][]byte)
	}
	return nil
}

var _ objectstore.Store = (*Store)(nil)
