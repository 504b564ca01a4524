package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"marginalia/internal/comments"
)

// PgFTS implements Searcher using PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true: without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over document titles and thread bodies,
// ranked with ts_rank and highlighted with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	var subQueries []string
	if (q.FilterType == "" || q.FilterType == ResultDocument) && q.DocumentID == "" {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				''::text AS snippet,
				d.id AS document_id,
				ts_rank(d.fts, %[1]s) AS rank
			FROM documents d
			WHERE d.fts @@ %[1]s`, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultThread {
		where := "c.item_type = 'thread' AND c.fts @@ " + tsQuery
		if q.DocumentID != "" {
			args = append(args, q.DocumentID)
			where += fmt.Sprintf(" AND c.document_id = $%d", len(args))
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'thread'::text AS type, c.id, coalesce(c.item->>'quote', '') AS title,
				ts_headline('english', c.body, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.document_id,
				ts_rank(c.fts, %[1]s) AS rank
			FROM comment_items c
			WHERE %[2]s`, tsQuery, where))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, q.limit(), max(q.Offset, 0))
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r   Result
			typ string
		)
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []ThreadRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `SELECT id, title FROM documents`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()
	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	threadRows, err := p.db.QueryContext(ctx, `
		SELECT document_id, item FROM comment_items WHERE item_type = 'thread'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load threads: %w", err)
	}
	defer threadRows.Close()
	threads := make([]ThreadRecord, 0)
	for threadRows.Next() {
		var (
			documentID string
			data       []byte
		)
		if err := threadRows.Scan(&documentID, &data); err != nil {
			return nil, nil, fmt.Errorf("scan thread: %w", err)
		}
		item, err := comments.DecodeItem(data)
		if err != nil {
			return nil, nil, err
		}
		if t, ok := item.(comments.Thread); ok {
			threads = append(threads, ThreadRecordFrom(documentID, t))
		}
	}
	if err := threadRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate threads: %w", err)
	}
	return documents, threads, nil
}
