// Package search finds documents and comment threads by text. Meilisearch
// is used when it is reachable; otherwise queries fall back to the
// persistence backend.
package search

import (
	"context"
	"slices"
	"strings"

	"marginalia/internal/comments"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultThread   ResultType = "thread"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	DocumentID string     // empty = all documents
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Engine is a search index that can also be written to.
type Engine interface {
	Searcher
	IndexDocument(d DocumentRecord) error
	IndexThreads(threads []ThreadRecord) error
	DeleteThread(id string) error
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ThreadRecord is the data we index for a thread.
type ThreadRecord struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"documentId"`
	Quote      string   `json:"quote"`
	Body       string   `json:"body"`
	Authors    []string `json:"authors"`
	Comments   int      `json:"comments"`
}

// ThreadRecordFrom builds the record of t. Deleted comments are left out.
func ThreadRecordFrom(documentID string, t comments.Thread) ThreadRecord {
	r := ThreadRecord{ID: t.ID, DocumentID: documentID, Quote: t.Quote, Authors: []string{}}
	var body []string
	for _, c := range t.Comments {
		if c.Deleted {
			continue
		}
		body = append(body, c.Content)
		r.Comments++
		if !slices.Contains(r.Authors, c.Author) {
			r.Authors = append(r.Authors, c.Author)
		}
	}
	r.Body = strings.Join(body, "\n")
	return r
}

// ThreadRecordsFrom returns the records of the threads in items.
func ThreadRecordsFrom(documentID string, items []comments.Item) []ThreadRecord {
	out := make([]ThreadRecord, 0, len(items))
	for _, item := range items {
		if t, ok := item.(comments.Thread); ok {
			out = append(out, ThreadRecordFrom(documentID, t))
		}
	}
	return out
}
