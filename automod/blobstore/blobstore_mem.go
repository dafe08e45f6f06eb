package blobstore

import (
	"context"
	"sync"
)

type MemBlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{
		data: make(map[string][]byte),
	}
}

func (s *MemBlobStore) Put(ref string, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ref] = blob
}

func (s *MemBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}
