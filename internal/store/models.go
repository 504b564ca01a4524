package store

import (
	"encoding/json"
	"time"
)

// Document is a stored document. Content holds the serialized node tree.
type Document struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content"`
	Version   int64           `json:"version"`
	UpdatedBy string          `json:"updatedBy"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// DocumentSummary is a Document without its content, for listings.
type DocumentSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Version   int64     `json:"version"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (d Document) Summary() DocumentSummary {
	return DocumentSummary{ID: d.ID, Title: d.Title, Version: d.Version, UpdatedBy: d.UpdatedBy, UpdatedAt: d.UpdatedAt}
}
