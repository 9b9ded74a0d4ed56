// Package blobstore keeps the raw uploaded PDF bytes that ingestion
// restarts from.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("blob not found")

// Store is keyed by slash-separated paths such as documents/<id>.pdf.
// Delete of a missing key succeeds.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

func DocumentKey(documentID string) string {
	return fmt.Sprintf("documents/%s.pdf", documentID)
}

// Memory is a Store held in a map, for tests and single-process demos.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}
