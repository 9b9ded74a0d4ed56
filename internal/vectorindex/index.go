// Package vectorindex defines the chunk vector store used by ingestion and
// retrieval. Implementations live in the memory and pgvector subpackages.
package vectorindex

import (
	"context"
	"errors"
	"fmt"

	"intellixdoc/internal/pkg/vecmath"
)

// Record is one chunk vector with the payload needed to build a citation.
type Record struct {
	ID         string
	DocumentID string
	Filename   string
	PageNumber int
	Ordinal    int
	Text       string
	Vector     []float32
}

type Match struct {
	Record
	Score float32
}

// Filter restricts a search to a set of documents. A nil *Filter means no
// restriction; a Filter with no ids matches nothing.
type Filter struct {
	DocumentIDs []string
}

func (f *Filter) Allows(documentID string) bool {
	if f == nil {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == documentID {
			return true
		}
	}
	return false
}

// Index stores chunk vectors.
//
// Upsert groups records by document and replaces each document's previous
// record set in a single step: a concurrent Search sees the old set or
// the new one, never a mix. DeleteByDocument is idempotent. Search ranks
// by cosine similarity, highest first, breaking ties by insertion order.
type Index interface {
	Dimension() int
	Upsert(ctx context.Context, records []Record) error
	DeleteByDocument(ctx context.Context, documentID string) error
	Search(ctx context.Context, vector []float32, topK int, filter *Filter) ([]Match, error)
	Ping(ctx context.Context) error
	Close() error
}

// UnavailableError means the backing store could not be reached. Callers
// may retry.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vector index unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}

// Group validates records against dim and splits them per document,
// keeping first-seen document order and record order within a document.
func Group(records []Record, dim int) ([]string, map[string][]Record, error) {
	var order []string
	groups := make(map[string][]Record)
	seen := make(map[string]struct{}, len(records))

	for _, r := range records {
		if r.ID == "" || r.DocumentID == "" {
			return nil, nil, fmt.Errorf("record needs both id and document id (id=%q document=%q)", r.ID, r.DocumentID)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, nil, fmt.Errorf("duplicate record id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if err := vecmath.Check("vector index", r.Vector, dim); err != nil {
			return nil, nil, err
		}
		if _, ok := groups[r.DocumentID]; !ok {
			order = append(order, r.DocumentID)
		}
		groups[r.DocumentID] = append(groups[r.DocumentID], r)
	}
	return order, groups, nil
}
