package inmemory

import (
	"context"
	"sync"

	"github.com/radarsiope/radar/data"
)

var _ data.Store = &InMemory{}

// InMemory implements an in memory document store
type InMemory struct {
	docs map[string]data.Fields
	m    sync.RWMutex
}

// GetInMemoryDB returns a new InMemoryDB to use
func GetInMemoryDB() *InMemory {
	return &InMemory{
		docs: make(map[string]data.Fields),
	}
}

// Start implements Store Start()
func (im *InMemory) Start() error {
	return nil
}

// Get returns a copy of the document at path
func (im *InMemory) Get(_ context.Context, path string) (data.Document, error) {
	im.m.RLock()
	defer im.m.RUnlock()

	f, ok := im.docs[path]
	if !ok {
		return data.Document{}, data.ErrNotFound
	}

	return data.Document{Path: path, Fields: f.Copy()}, nil
}

// Set saves fields to memory, merging into an existing document when asked to
func (im *InMemory) Set(_ context.Context, path string, fields data.Fields, merge bool) error {
	im.m.Lock()
	defer im.m.Unlock()

	existing, ok := im.docs[path]
	if merge && ok {
		im.docs[path] = data.Merge(existing, fields)
		return nil
	}

	im.docs[path] = fields.Copy()
	return nil
}

// Update merges fields into an existing document
func (im *InMemory) Update(_ context.Context, path string, fields data.Fields) error {
	im.m.Lock()
	defer im.m.Unlock()

	existing, ok := im.docs[path]
	if !ok {
		return data.ErrNotFound
	}

	im.docs[path] = data.Merge(existing, fields)
	return nil
}

// Increment adds delta to field under the write lock
func (im *InMemory) Increment(_ context.Context, path, field string, delta int64) (int64, error) {
	im.m.Lock()
	defer im.m.Unlock()

	existing, ok := im.docs[path]
	if !ok {
		return 0, data.ErrNotFound
	}

	n := existing.Int(field) + delta
	existing[field] = n

	return n, nil
}

// Query scans every document in memory
func (im *InMemory) Query(_ context.Context, q data.Query) ([]data.Document, error) {
	im.m.RLock()
	defer im.m.RUnlock()

	var candidates []data.Document
	for path, f := range im.docs {
		if data.CollectionGroup(path) != q.CollectionGroup {
			continue
		}
		candidates = append(candidates, data.Document{Path: path, Fields: f.Copy()})
	}

	return q.Apply(candidates), nil
}
