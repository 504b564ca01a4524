package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"marginalia/internal/comments"
)

var (
	bucketDocuments = []byte("documents")
	bucketComments  = []byte("comments")
)

// BoltStore keeps documents in a single bbolt file, for single-node use
// without Postgres.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDocuments, bucketComments} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt schema: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Backend() string { return BackendBolt }

func getDocument(tx *bolt.Tx, id string) (Document, error) {
	data := tx.Bucket(bucketDocuments).Get([]byte(id))
	if data == nil {
		return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return d, nil
}

func putDocument(tx *bolt.Tx, d Document) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", d.ID, err)
	}
	return tx.Bucket(bucketDocuments).Put([]byte(d.ID), data)
}

func (s *BoltStore) CreateDocument(_ context.Context, d Document) (Document, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDocuments).Get([]byte(d.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrDocumentExists, d.ID)
		}
		now := time.Now().UTC()
		d.Version, d.CreatedAt, d.UpdatedAt = 1, now, now
		return putDocument(tx, d)
	})
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *BoltStore) GetDocument(_ context.Context, id string) (Document, error) {
	var d Document
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		d, err = getDocument(tx, id)
		return err
	})
	return d, err
}

func (s *BoltStore) ListDocuments(context.Context) ([]DocumentSummary, error) {
	out := make([]DocumentSummary, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(k, v []byte) error {
			var d Document
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("decode document %s: %w", k, err)
			}
			out = append(out, d.Summary())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *BoltStore) SaveDocument(_ context.Context, d Document) (Document, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		current, err := getDocument(tx, d.ID)
		if err != nil {
			return err
		}
		if current.Version != d.Version {
			return fmt.Errorf("%w: %s at version %d", ErrVersionConflict, d.ID, d.Version)
		}
		d.Version = current.Version + 1
		d.CreatedAt = current.CreatedAt
		d.UpdatedAt = time.Now().UTC()
		return putDocument(tx, d)
	})
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *BoltStore) SaveComments(_ context.Context, documentID string, items []comments.Item) error {
	data, err := comments.EncodeItems(items)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDocuments).Get([]byte(documentID)) == nil {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
		}
		return tx.Bucket(bucketComments).Put([]byte(documentID), data)
	})
}

func (s *BoltStore) LoadComments(_ context.Context, documentID string) ([]comments.Item, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketComments).Get([]byte(documentID)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	items, err := comments.DecodeItems(data)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []comments.Item{}
	}
	return items, nil
}

// SearchThreads is a substring scan over the stored threads of every
// document, used when neither Meilisearch nor Postgres is available.
func (s *BoltStore) SearchThreads(_ context.Context, text string, limit int) ([]ThreadHit, error) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil, nil
	}
	var hits []ThreadHit
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketComments).ForEach(func(k, v []byte) error {
			items, err := comments.DecodeItems(v)
			if err != nil {
				return err
			}
			for _, item := range items {
				body := searchBody(item)
				if item.ItemType() != comments.TypeThread || !strings.Contains(strings.ToLower(body), needle) {
					continue
				}
				hits = append(hits, ThreadHit{ID: item.ItemID(), DocumentID: string(k), Quote: item.(comments.Thread).Quote, Body: body})
				if limit > 0 && len(hits) >= limit {
					return errStopScan
				}
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}
	return hits, nil
}

var errStopScan = errors.New("stop scan")

// ThreadHit is a thread matched by SearchThreads.
type ThreadHit struct {
	ID         string
	DocumentID string
	Quote      string
	Body       string
}

func (s *BoltStore) Ping(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
