package search

import (
	"context"

	"marginalia/internal/store"
)

// BoltScan searches the threads of a bbolt store by substring, for
// deployments without Postgres.
type BoltScan struct {
	store *store.BoltStore
}

func NewBoltScan(s *store.BoltStore) *BoltScan {
	return &BoltScan{store: s}
}

func (b *BoltScan) Healthy() bool { return true }

func (b *BoltScan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if q.FilterType == ResultDocument {
		return nil, 0, nil
	}
	hits, err := b.store.SearchThreads(ctx, q.Text, 0)
	if err != nil {
		return nil, 0, err
	}
	var results []Result
	for _, h := range hits {
		if q.DocumentID != "" && h.DocumentID != q.DocumentID {
			continue
		}
		results = append(results, Result{Type: ResultThread, ID: h.ID, Title: h.Quote, Snippet: h.Body, DocumentID: h.DocumentID})
	}
	total := len(results)
	from := min(max(q.Offset, 0), total)
	to := min(from+q.limit(), total)
	return results[from:to], total, nil
}
