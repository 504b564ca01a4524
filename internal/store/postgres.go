package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"marginalia/internal/comments"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Backend() string { return BackendPostgres }

func (s *PostgresStore) CreateDocument(ctx context.Context, d Document) (Document, error) {
	const query = `
		INSERT INTO documents (id, title, content, updated_by)
		VALUES ($1, $2, $3, $4)
		RETURNING version, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, d.ID, d.Title, []byte(d.Content), d.UpdatedBy).
		Scan(&d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Document{}, fmt.Errorf("%w: %s", ErrDocumentExists, d.ID)
		}
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	const query = `
		SELECT id, title, content, version, updated_by, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	var (
		d       Document
		content []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&d.ID, &d.Title, &content, &d.Version, &d.UpdatedBy, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	d.Content = content
	return d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, version, updated_by, updated_at
		FROM documents
		ORDER BY updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]DocumentSummary, 0)
	for rows.Next() {
		var d DocumentSummary
		if err := rows.Scan(&d.ID, &d.Title, &d.Version, &d.UpdatedBy, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveDocument(ctx context.Context, d Document) (Document, error) {
	const query = `
		UPDATE documents
		SET title = $2, content = $3, updated_by = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $5
		RETURNING version, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, d.ID, d.Title, []byte(d.Content), d.UpdatedBy, d.Version).
		Scan(&d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetDocument(ctx, d.ID); getErr != nil {
			return Document{}, getErr
		}
		return Document{}, fmt.Errorf("%w: %s at version %d", ErrVersionConflict, d.ID, d.Version)
	}
	if err != nil {
		return Document{}, fmt.Errorf("save document: %w", err)
	}
	return d, nil
}

// SaveComments replaces the stored collection of a document.
func (s *PostgresStore) SaveComments(ctx context.Context, documentID string, items []comments.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save comments: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id=$1)`, documentID).Scan(&exists); err != nil {
		return fmt.Errorf("check document: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM comment_items WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("clear comments: %w", err)
	}
	for i, item := range items {
		data, err := comments.EncodeItem(item)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO comment_items (document_id, id, position, item_type, item, body)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, documentID, item.ItemID(), i, string(item.ItemType()), data, searchBody(item))
		if err != nil {
			return fmt.Errorf("insert comment %s: %w", item.ItemID(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit comments: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadComments(ctx context.Context, documentID string) ([]comments.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item FROM comment_items WHERE document_id=$1 ORDER BY position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	defer rows.Close()

	items := make([]comments.Item, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		item, err := comments.DecodeItem(data)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
