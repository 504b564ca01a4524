// Package snapshot keeps the history of each document in its own git
// repository: every save commits the document tree and its comments.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	documentFile = "document.json"
	commentsFile = "comments.json"
	titleFile    = "TITLE"
	branch       = "main"
)

var ErrNoHistory = errors.New("document has no history")

// Content is what a snapshot records.
type Content struct {
	Title    string          `json:"title"`
	Document json.RawMessage `json:"document"`
	Comments json.RawMessage `json:"comments"`
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Changed   []string  `json:"changed,omitempty"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir, locks: map[string]*sync.Mutex{}}
}

// Save commits content when it differs from the latest snapshot. It reports
// whether a commit was made; an unchanged document returns the latest one.
func (s *Service) Save(documentID string, content Content, author, message string) (Commit, bool, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(documentID)
	if err != nil {
		return Commit{}, false, err
	}
	var previous Content
	head, err := repo.Head()
	switch {
	case err == nil:
		headCommit, err := repo.CommitObject(head.Hash())
		if err != nil {
			return Commit{}, false, fmt.Errorf("load head commit: %w", err)
		}
		previous, err = readContent(headCommit)
		if err != nil {
			return Commit{}, false, err
		}
		changed := Changed(previous, content)
		if len(changed) == 0 {
			return toCommit(headCommit), false, nil
		}
	case errors.Is(err, plumbing.ErrReferenceNotFound):
	default:
		return Commit{}, false, fmt.Errorf("resolve head: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, false, fmt.Errorf("open worktree: %w", err)
	}
	files := map[string][]byte{
		titleFile:    []byte(content.Title + "\n"),
		documentFile: indentJSON(content.Document),
		commentsFile: indentJSON(content.Comments),
	}
	root := worktree.Filesystem.Root()
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(root, name), data, 0o644); err != nil {
			return Commit{}, false, fmt.Errorf("write %s: %w", name, err)
		}
		if _, err := worktree.Add(name); err != nil {
			return Commit{}, false, fmt.Errorf("git add %s: %w", name, err)
		}
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: sanitizeEmail(author) + "@marginalia.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return Commit{}, false, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	c := toCommit(commitObj)
	c.Changed = Changed(previous, content)
	return c, true, nil
}

// History lists snapshots newest first, at most limit when limit > 0.
func (s *Service) History(documentID string, limit int) ([]Commit, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoHistory, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(c *object.Commit) error {
		items = append(items, toCommit(c))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// At returns the content recorded by the snapshot hash, which may be
// abbreviated or a tag name.
func (s *Service) At(documentID, hash string) (Content, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return Content{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContent(commitObj)
}

// Tag names a snapshot.
func (s *Service) Tag(documentID, hash, name string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return err
	}
	_, err = repo.CreateTag(name, resolved, &git.CreateTagOptions{
		Tagger:  &object.Signature{Name: "marginalia", Email: "marginalia@localhost", When: time.Now()},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) open(documentID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNoHistory, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(documentID string) (*git.Repository, error) {
	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return repo, nil
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[documentID] = lock
	}
	return lock
}

func readContent(c *object.Commit) (Content, error) {
	read := func(name string) ([]byte, error) {
		f, err := c.File(name)
		if err != nil {
			return nil, fmt.Errorf("load %s from commit: %w", name, err)
		}
		text, err := f.Contents()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return []byte(text), nil
	}
	title, err := read(titleFile)
	if err != nil {
		return Content{}, err
	}
	document, err := read(documentFile)
	if err != nil {
		return Content{}, err
	}
	commentsJSON, err := read(commentsFile)
	if err != nil {
		return Content{}, err
	}
	return Content{
		Title:    string(bytes.TrimSuffix(title, []byte("\n"))),
		Document: bytes.TrimSpace(document),
		Comments: bytes.TrimSpace(commentsJSON),
	}, nil
}

// Changed names the parts that differ between two contents: "title",
// "document" and "comments". JSON is compared after normalization.
func Changed(from, to Content) []string {
	var out []string
	if from.Title != to.Title {
		out = append(out, "title")
	}
	if !bytes.Equal(normalizeJSON(from.Document), normalizeJSON(to.Document)) {
		out = append(out, "document")
	}
	if !bytes.Equal(normalizeJSON(from.Comments), normalizeJSON(to.Comments)) {
		out = append(out, "comments")
	}
	return out
}

func toCommit(c *object.Commit) Commit {
	return Commit{
		Hash:      c.Hash.String()[:7],
		Message:   c.Message,
		Author:    c.Author.Name,
		CreatedAt: c.Author.When,
	}
}

func indentJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null\n")
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return append(bytes.Clone(raw), '\n')
	}
	out.WriteByte('\n')
	return out.Bytes()
}

func normalizeJSON(raw json.RawMessage) []byte {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null")
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return raw
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return raw
	}
	return normalized
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
