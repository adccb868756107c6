package data

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned when the document at a path doesn't exist
var ErrNotFound = errors.New("document not found")

// Store lists the methods a document store backend must implement. Documents are addressed by
// slash separated paths in the form collection/id/subcollection/id.
type Store interface {
	// Start is where you should do schema creation and launch goroutines for background operations
	Start() error
	// Get returns the document at path or ErrNotFound
	Get(ctx context.Context, path string) (Document, error)
	// Set writes fields to path. With merge the given fields are merged into an existing document,
	// otherwise the document is replaced. The document is created when it doesn't exist.
	Set(ctx context.Context, path string, fields Fields, merge bool) error
	// Update merges fields into an existing document and returns ErrNotFound when there is none
	Update(ctx context.Context, path string, fields Fields) error
	// Increment atomically adds delta to an integer field of an existing document and returns the
	// new value. A missing field counts as zero.
	Increment(ctx context.Context, path, field string, delta int64) (int64, error)
	// Query returns documents of a collection group matching every filter, ordered by path
	Query(ctx context.Context, q Query) ([]Document, error)
}

// Filter is an equality condition on a single field
type Filter struct {
	Field string
	Value interface{}
}

// Query selects documents across every collection with the same name
type Query struct {
	CollectionGroup string
	Where           []Filter
	Limit           int
}

// Matches reports whether doc belongs to the query's collection group and satisfies its filters
func (q Query) Matches(doc Document) bool {
	if CollectionGroup(doc.Path) != q.CollectionGroup {
		return false
	}

	for _, f := range q.Where {
		v, ok := doc.Fields[f.Field]
		if !ok || !equalValues(v, f.Value) {
			return false
		}
	}

	return true
}

// Apply filters, sorts and limits a candidate set of documents. Backends without native
// filtering load the collection group and hand it over here.
func (q Query) Apply(candidates []Document) []Document {
	var out []Document
	for _, d := range candidates {
		if q.Matches(d) {
			out = append(out, d)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	return out
}

// values can come back from a backend as a different go type than they were written with
// (json.Number, float64, int64) so compare their printed form
func equalValues(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}
