package store

import (
	"context"
	"errors"
	"strings"

	"marginalia/internal/comments"
)

const (
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	// ErrVersionConflict indicates a save based on a stale document version.
	ErrVersionConflict = errors.New("document version conflict")
)

// Repository persists documents and their comment collections.
type Repository interface {
	CreateDocument(ctx context.Context, d Document) (Document, error)
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context) ([]DocumentSummary, error)
	// SaveDocument stores d when the stored version equals d.Version and
	// returns it with the version incremented.
	SaveDocument(ctx context.Context, d Document) (Document, error)
	SaveComments(ctx context.Context, documentID string, items []comments.Item) error
	LoadComments(ctx context.Context, documentID string) ([]comments.Item, error)
	Ping(ctx context.Context) error
	Backend() string
	Close() error
}

// searchBody is the text a thread is found by: its quote and live comments.
func searchBody(item comments.Item) string {
	switch v := item.(type) {
	case comments.Thread:
		parts := []string{v.Quote}
		for _, c := range v.Comments {
			if !c.Deleted {
				parts = append(parts, c.Content)
			}
		}
		return strings.Join(parts, "\n")
	case comments.Comment:
		if v.Deleted {
			return ""
		}
		return v.Content
	}
	return ""
}
