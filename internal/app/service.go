package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"marginalia/internal/anchor"
	"marginalia/internal/collab"
	"marginalia/internal/comments"
	"marginalia/internal/config"
	"marginalia/internal/doc"
	"marginalia/internal/docio"
	"marginalia/internal/export"
	"marginalia/internal/mark"
	"marginalia/internal/search"
	"marginalia/internal/snapshot"
	"marginalia/internal/store"
	"marginalia/internal/util"
)

const collabTimeout = 10 * time.Second

// Dependencies are the collaborators of a Service. Only Store is required.
type Dependencies struct {
	Store     store.Repository
	Search    *search.Service
	Snapshots *snapshot.Service
	// Collab opens the comment channel of each document; nil keeps comments local.
	Collab collab.Factory
	// Records, when set, supplies every searchable record in one pass for
	// Reindex instead of walking the repository.
	Records RecordSource
	Log     *slog.Logger
}

type RecordSource interface {
	LoadAllRecords(ctx context.Context) ([]search.DocumentRecord, []search.ThreadRecord, error)
}

// Service keeps one editor, comment store and anchoring session per open
// document and writes every change through to the repository.
type Service struct {
	cfg       config.Config
	store     store.Repository
	search    *search.Service
	snapshots *snapshot.Service
	collab    collab.Factory
	records   RecordSource
	exporter  *export.Service
	log       *slog.Logger

	mu   sync.Mutex
	docs map[string]*openDocument
}

type openDocument struct {
	id       string
	editor   *doc.Editor
	comments *comments.Store
	session  *anchor.Session
	stop     []func()

	mu          sync.Mutex
	meta        store.Document
	lastContent []byte
	deletions   map[string]*comments.Deletion

	saveMu  sync.Mutex
	indexed map[string]search.ThreadRecord
}

func New(cfg config.Config, deps Dependencies) *Service {
	log := deps.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		search:    deps.Search,
		snapshots: deps.Snapshots,
		collab:    deps.Collab,
		records:   deps.Records,
		log:       log,
		docs:      map[string]*openDocument{},
	}
	if s.search == nil {
		s.search = search.NewService(nil, nil, log)
	}
	s.exporter = export.NewService(s,
		export.WithChromePath(cfg.ChromePath),
		export.WithTimeout(cfg.ExportTimeout()),
		export.WithLogger(log.With("component", "export")),
	)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CommentChannel names the collaboration channel of a document's comments.
func CommentChannel(documentID string) string {
	return "comments:" + documentID
}

// DocumentView is a document as returned to clients.
type DocumentView struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Version   int64              `json:"version"`
	UpdatedBy string             `json:"updatedBy"`
	UpdatedAt time.Time          `json:"updatedAt"`
	Content   doc.SerializedNode `json:"content"`
	Text      string             `json:"text"`
	Selection *SelectionView     `json:"selection,omitempty"`
	Active    anchor.ActiveState `json:"active"`
	CanUndo   bool               `json:"canUndo"`
	CanRedo   bool               `json:"canRedo"`
}

type SelectionView struct {
	Anchor doc.Position `json:"anchor"`
	Focus  doc.Position `json:"focus"`
	Text   string       `json:"text"`
}

func (s *Service) ListDocuments(ctx context.Context) ([]store.DocumentSummary, error) {
	return s.store.ListDocuments(ctx)
}

// CreateDocument stores a new document. The tree is normalized on the way in.
func (s *Service) CreateDocument(ctx context.Context, title string, root doc.SerializedNode, author string) (DocumentView, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return DocumentView{}, validationError("title is required")
	}
	if root.Type == "" {
		root.Type = doc.KindRoot.String()
	}
	e := doc.New()
	defer mark.Register(e)()
	if err := e.Update(func(tx *doc.Txn) error { return tx.Import(root) }, doc.TagHistoryMerge); err != nil {
		return DocumentView{}, domainError(422, "INVALID_CONTENT", err.Error(), nil)
	}
	content, err := doc.MarshalState(e.State())
	if err != nil {
		return DocumentView{}, err
	}

	created, err := s.store.CreateDocument(ctx, store.Document{
		ID:        util.NewID("doc"),
		Title:     title,
		Content:   content,
		UpdatedBy: author,
	})
	if err != nil {
		return DocumentView{}, err
	}
	s.search.IndexDocument(search.DocumentRecord{ID: created.ID, Title: created.Title})
	s.log.Info("document created", "document", created.ID, "author", author)
	return s.Document(ctx, created.ID)
}

// ImportDocument parses an uploaded file and stores it as a new document.
// An empty title takes the one found in the file.
func (s *Service) ImportDocument(ctx context.Context, filename, contentType, title string, r io.Reader, author string) (DocumentView, error) {
	parser, err := docio.ForFile(filename, contentType)
	if err != nil {
		return DocumentView{}, err
	}
	imported, err := parser.Parse(r, filename)
	if err != nil {
		return DocumentView{}, domainError(422, "INVALID_CONTENT", err.Error(), nil)
	}
	if strings.TrimSpace(title) == "" {
		title = imported.Title
	}
	if strings.TrimSpace(title) == "" {
		title = "Untitled"
	}
	return s.CreateDocument(ctx, title, imported.Root, author)
}

func (s *Service) RenameDocument(ctx context.Context, documentID, title, author string) (DocumentView, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return DocumentView{}, validationError("title is required")
	}
	od, err := s.open(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	od.mu.Lock()
	od.meta.Title = title
	od.mu.Unlock()
	if err := s.persistDocument(ctx, od, author, true); err != nil {
		return DocumentView{}, err
	}
	s.search.IndexDocument(search.DocumentRecord{ID: documentID, Title: title})
	return s.view(od), nil
}

func (s *Service) Document(ctx context.Context, documentID string) (DocumentView, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	return s.view(od), nil
}

func (s *Service) view(od *openDocument) DocumentView {
	st := od.editor.State()
	od.mu.Lock()
	meta := od.meta
	od.mu.Unlock()
	v := DocumentView{
		ID:        meta.ID,
		Title:     meta.Title,
		Version:   meta.Version,
		UpdatedBy: meta.UpdatedBy,
		UpdatedAt: meta.UpdatedAt,
		Content:   doc.Export(st),
		Text:      st.TextContent(),
		Active:    od.session.Active(),
		CanUndo:   od.editor.CanUndo(),
		CanRedo:   od.editor.CanRedo(),
	}
	if sel, ok := st.Selection(); ok {
		a, okA := st.PositionOf(sel.Anchor)
		f, okF := st.PositionOf(sel.Focus)
		if okA && okF {
			v.Selection = &SelectionView{Anchor: a, Focus: f, Text: st.SelectedText(sel)}
		}
	}
	return v
}

// open returns the live document, loading it on first use.
func (s *Service) open(ctx context.Context, documentID string) (*openDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if od, ok := s.docs[documentID]; ok {
		return od, nil
	}

	meta, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	root := doc.SerializedNode{Type: doc.KindRoot.String()}
	if len(meta.Content) > 0 && string(meta.Content) != "null" {
		if root, err = doc.ParseSerialized(meta.Content); err != nil {
			return nil, fmt.Errorf("open document %s: %w", documentID, err)
		}
	}
	items, err := s.store.LoadComments(ctx, documentID)
	if err != nil {
		return nil, err
	}

	log := s.log.With("document", documentID)
	od := &openDocument{
		id:        documentID,
		editor:    doc.New(doc.WithLogger(log), doc.WithHistoryLimit(s.cfg.HistoryLimit)),
		comments:  comments.NewStore(comments.WithLogger(log)),
		meta:      meta,
		deletions: map[string]*comments.Deletion{},
		indexed:   map[string]search.ThreadRecord{},
	}
	od.meta.Content = nil
	od.comments.Load(items)
	for _, r := range search.ThreadRecordsFrom(documentID, items) {
		od.indexed[r.ID] = r
	}
	od.session = anchor.NewSession(od.editor, od.comments, anchor.WithLogger(log))
	if err := od.editor.Update(func(tx *doc.Txn) error { return tx.Import(root) }, doc.TagHistoryMerge); err != nil {
		od.session.Close()
		return nil, fmt.Errorf("open document %s: %w", documentID, err)
	}
	od.lastContent, _ = doc.MarshalState(od.editor.State())
	od.stop = append(od.stop, od.session.Close, od.comments.Subscribe(func([]comments.Item) {
		s.persistComments(od)
	}))

	if s.collab != nil {
		provider, err := collab.Open(s.collab, CommentChannel(documentID), nil)
		if err != nil {
			log.Warn("open comment channel, continuing locally", "error", err)
		} else {
			connectCtx, cancel := context.WithTimeout(context.Background(), collabTimeout)
			detach := od.comments.RegisterCollaboration(connectCtx, provider)
			cancel()
			od.stop = append(od.stop, func() {
				detach()
				_ = provider.Close()
			})
		}
	}

	s.docs[documentID] = od
	log.Info("document opened", "threads", len(items), "marks", od.session.Index().Len())
	return od, nil
}

// CloseDocument releases the live state of a document. Its next use reloads it.
func (s *Service) CloseDocument(documentID string) {
	s.mu.Lock()
	od, ok := s.docs[documentID]
	delete(s.docs, documentID)
	s.mu.Unlock()
	if ok {
		od.close()
	}
}

func (od *openDocument) close() {
	for i := len(od.stop) - 1; i >= 0; i-- {
		od.stop[i]()
	}
	od.stop = nil
}

// Close releases every open document and waits for pending index updates.
func (s *Service) Close() {
	s.mu.Lock()
	docs := s.docs
	s.docs = map[string]*openDocument{}
	s.mu.Unlock()
	for _, od := range docs {
		od.close()
	}
	s.search.Wait()
}

// persistDocument writes the document when its content changed, or always
// with force.
func (s *Service) persistDocument(ctx context.Context, od *openDocument, author string, force bool) error {
	content, err := doc.MarshalState(od.editor.State())
	if err != nil {
		return err
	}
	od.mu.Lock()
	defer od.mu.Unlock()
	if !force && bytes.Equal(content, od.lastContent) {
		return nil
	}
	next := od.meta
	next.Content = content
	next.UpdatedBy = author
	saved, err := s.store.SaveDocument(ctx, next)
	if err != nil {
		s.log.Warn("persist document", "document", od.id, "error", err)
		return err
	}
	saved.Content = nil
	od.meta = saved
	od.lastContent = content
	return nil
}

// persistComments saves the current collection. Each call reads the store
// afresh, so the last save always reflects the latest change.
func (s *Service) persistComments(od *openDocument) {
	od.saveMu.Lock()
	defer od.saveMu.Unlock()
	items := od.comments.Comments()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.SaveComments(ctx, od.id, items); err != nil {
		s.log.Warn("persist comments", "document", od.id, "error", err)
	}

	seen := map[string]bool{}
	for _, r := range search.ThreadRecordsFrom(od.id, items) {
		seen[r.ID] = true
		if prev, ok := od.indexed[r.ID]; ok && sameRecord(prev, r) {
			continue
		}
		od.indexed[r.ID] = r
		s.search.IndexThread(r)
	}
	for id := range od.indexed {
		if !seen[id] {
			delete(od.indexed, id)
			s.search.DeleteThread(id)
		}
	}
}

func sameRecord(a, b search.ThreadRecord) bool {
	return a.Quote == b.Quote && a.Body == b.Body && a.Comments == b.Comments && slices.Equal(a.Authors, b.Authors)
}

// edit runs fn against the live document and persists whatever it changed.
func (s *Service) edit(ctx context.Context, documentID, author string, fn func(od *openDocument) error) (*openDocument, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := fn(od); err != nil {
		return nil, err
	}
	if err := s.persistDocument(ctx, od, author, false); err != nil {
		return nil, err
	}
	return od, nil
}

func (s *Service) SetSelection(ctx context.Context, documentID string, anchorPos, focusPos doc.Position) (DocumentView, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	sel, ok := od.editor.State().SelectionAt(anchorPos, focusPos)
	if !ok {
		return DocumentView{}, doc.ErrInvalidPoint
	}
	if err := od.editor.SetSelection(sel); err != nil {
		return DocumentView{}, err
	}
	return s.view(od), nil
}

func (s *Service) ClearSelection(ctx context.Context, documentID string) (DocumentView, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	err = od.editor.Update(func(tx *doc.Txn) error {
		tx.ClearSelection()
		return nil
	})
	if err != nil {
		return DocumentView{}, err
	}
	return s.view(od), nil
}

// InsertText replaces the selection with text.
func (s *Service) InsertText(ctx context.Context, documentID, text, author string) (DocumentView, error) {
	od, err := s.edit(ctx, documentID, author, func(od *openDocument) error {
		return od.editor.Update(func(tx *doc.Txn) error { return tx.InsertText(text) })
	})
	if err != nil {
		return DocumentView{}, err
	}
	return s.view(od), nil
}

func (s *Service) DeleteSelection(ctx context.Context, documentID, author string) (DocumentView, error) {
	od, err := s.edit(ctx, documentID, author, func(od *openDocument) error {
		return od.editor.Update(func(tx *doc.Txn) error { return tx.DeleteSelection() })
	})
	if err != nil {
		return DocumentView{}, err
	}
	return s.view(od), nil
}

func (s *Service) InsertParagraph(ctx context.Context, documentID, author string) (DocumentView, error) {
	od, err := s.edit(ctx, documentID, author, func(od *openDocument) error {
		return od.editor.Update(func(tx *doc.Txn) error { return tx.InsertParagraph() })
	})
	if err != nil {
		return DocumentView{}, err
	}
	return s.view(od), nil
}

// Undo reverts the latest recorded edit. It reports false when there is none.
func (s *Service) Undo(ctx context.Context, documentID, author string) (DocumentView, bool, error) {
	var moved bool
	od, err := s.edit(ctx, documentID, author, func(od *openDocument) error {
		moved = od.editor.Undo()
		return nil
	})
	if err != nil {
		return DocumentView{}, false, err
	}
	return s.view(od), moved, nil
}

func (s *Service) Redo(ctx context.Context, documentID, author string) (DocumentView, bool, error) {
	var moved bool
	od, err := s.edit(ctx, documentID, author, func(od *openDocument) error {
		moved = od.editor.Redo()
		return nil
	})
	if err != nil {
		return DocumentView{}, false, err
	}
	return s.view(od), moved, nil
}

func (s *Service) Active(ctx context.Context, documentID string) (anchor.ActiveState, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return anchor.ActiveState{}, err
	}
	return od.session.Active(), nil
}

// MarkView lists, per annotation ID, the marks carrying it and where their
// text starts and ends.
type MarkView struct {
	Key  doc.NodeKey  `json:"key"`
	From doc.Position `json:"from"`
	To   doc.Position `json:"to"`
	Text string       `json:"text"`
}

func (s *Service) MarkMap(ctx context.Context, documentID string) (map[string][]MarkView, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return nil, err
	}
	st := od.editor.State()
	out := map[string][]MarkView{}
	for id, keys := range od.session.MarkNodeMap() {
		views := make([]MarkView, 0, len(keys))
		for _, key := range keys {
			v := MarkView{Key: key, Text: st.NodeText(key)}
			if texts := st.Texts(key); len(texts) > 0 {
				last, _ := st.Node(texts[len(texts)-1])
				v.From, _ = st.PositionOf(doc.Point{Key: texts[0]})
				v.To, _ = st.PositionOf(doc.Point{Key: last.Key(), Offset: last.Size()})
			}
			views = append(views, v)
		}
		out[id] = views
	}
	return out, nil
}

func (s *Service) OpenCommentInput(ctx context.Context, documentID string) (anchor.ActiveState, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return anchor.ActiveState{}, err
	}
	if !od.editor.Dispatch(anchor.CommandInsertInlineComment, nil) {
		return anchor.ActiveState{}, anchor.ErrEmptySelection
	}
	return od.session.Active(), nil
}

func (s *Service) CancelCommentInput(ctx context.Context, documentID string) (anchor.ActiveState, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return anchor.ActiveState{}, err
	}
	od.session.CancelCommentInput()
	return od.session.Active(), nil
}

func (s *Service) Threads(ctx context.Context, documentID string) ([]comments.Item, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return od.comments.Comments(), nil
}

func (s *Service) AddThread(ctx context.Context, documentID, author, content string) (comments.Thread, error) {
	var thread comments.Thread
	_, err := s.edit(ctx, documentID, author, func(od *openDocument) error {
		var err error
		thread, err = od.session.AddThread(author, content)
		return err
	})
	if err != nil {
		return comments.Thread{}, err
	}
	return thread, nil
}

func (s *Service) Reply(ctx context.Context, documentID, threadID, author, content string) (comments.Comment, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return comments.Comment{}, err
	}
	return od.session.Reply(threadID, author, content)
}

// DeleteComment tombstones a comment and remembers how to restore it.
func (s *Service) DeleteComment(ctx context.Context, documentID, threadID, commentID string) (*comments.Deletion, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return nil, err
	}
	d, err := od.session.DeleteComment(threadID, commentID)
	if err != nil {
		return nil, err
	}
	od.mu.Lock()
	od.deletions[commentID] = d
	od.mu.Unlock()
	return d, nil
}

func (s *Service) RestoreComment(ctx context.Context, documentID, threadID, commentID string) (comments.Thread, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return comments.Thread{}, err
	}
	od.mu.Lock()
	d, ok := od.deletions[commentID]
	od.mu.Unlock()
	if !ok {
		return comments.Thread{}, anchor.ErrCommentNotFound
	}
	if err := od.session.RestoreComment(threadID, d); err != nil {
		return comments.Thread{}, err
	}
	od.mu.Lock()
	delete(od.deletions, commentID)
	od.mu.Unlock()
	t, _ := od.comments.Thread(threadID)
	return t, nil
}

// DeleteThread removes a thread and strips its ID from the document.
func (s *Service) DeleteThread(ctx context.Context, documentID, threadID, author string) error {
	_, err := s.edit(ctx, documentID, author, func(od *openDocument) error {
		marked := od.session.Index().Has(threadID)
		d, err := od.session.DeleteThread(threadID)
		if err != nil {
			return err
		}
		if d == nil && !marked {
			return anchor.ErrThreadNotFound
		}
		return nil
	})
	return err
}

// CollaborationStatus reports whether a document's comments are shared.
type CollaborationStatus struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Pending   int    `json:"pending"`
	Channel   string `json:"channel"`
}

func (s *Service) Collaboration(ctx context.Context, documentID string) (CollaborationStatus, error) {
	od, err := s.open(ctx, documentID)
	if err != nil {
		return CollaborationStatus{}, err
	}
	return CollaborationStatus{
		Enabled:   s.collab != nil,
		Connected: od.comments.Connected(),
		Pending:   od.comments.Pending(),
		Channel:   CommentChannel(documentID),
	}, nil
}

func (s *Service) SetCollaboration(ctx context.Context, documentID string, connected bool) (CollaborationStatus, error) {
	if s.collab == nil {
		return CollaborationStatus{}, comments.ErrNoProvider
	}
	od, err := s.open(ctx, documentID)
	if err != nil {
		return CollaborationStatus{}, err
	}
	od.editor.Dispatch(anchor.CommandToggleConnect, connected)
	return s.Collaboration(ctx, documentID)
}

// ExportDocument serves the live state of open documents and the stored
// state of the others.
func (s *Service) ExportDocument(ctx context.Context, documentID string) (export.Document, error) {
	s.mu.Lock()
	od, ok := s.docs[documentID]
	s.mu.Unlock()
	if ok {
		od.mu.Lock()
		meta := od.meta
		od.mu.Unlock()
		return export.Document{
			ID:        documentID,
			Title:     meta.Title,
			Content:   doc.Export(od.editor.State()),
			UpdatedBy: meta.UpdatedBy,
			UpdatedAt: meta.UpdatedAt,
			Comments:  od.comments.Comments(),
		}, nil
	}

	meta, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return export.Document{}, err
	}
	root, err := doc.ParseSerialized(meta.Content)
	if err != nil {
		return export.Document{}, err
	}
	items, err := s.store.LoadComments(ctx, documentID)
	if err != nil {
		return export.Document{}, err
	}
	return export.Document{
		ID:        documentID,
		Title:     meta.Title,
		Content:   root,
		UpdatedBy: meta.UpdatedBy,
		UpdatedAt: meta.UpdatedAt,
		Comments:  items,
	}, nil
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.exporter.Export(ctx, req)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

// Reindex pushes every stored document and thread to the search engine.
func (s *Service) Reindex(ctx context.Context) error {
	if s.records != nil {
		documents, threads, err := s.records.LoadAllRecords(ctx)
		if err != nil {
			return err
		}
		s.search.Reindex(documents, threads)
		return nil
	}
	summaries, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	var (
		documents []search.DocumentRecord
		threads   []search.ThreadRecord
	)
	for _, d := range summaries {
		documents = append(documents, search.DocumentRecord{ID: d.ID, Title: d.Title})
		items, err := s.store.LoadComments(ctx, d.ID)
		if err != nil {
			return err
		}
		threads = append(threads, search.ThreadRecordsFrom(d.ID, items)...)
	}
	s.search.Reindex(documents, threads)
	return nil
}

var errSnapshotsDisabled = domainError(409, "SNAPSHOTS_DISABLED", "Version history is not enabled", nil)

// SaveVersion records the document and its comments in the version history.
func (s *Service) SaveVersion(ctx context.Context, documentID, author, message string) (snapshot.Commit, bool, error) {
	if s.snapshots == nil {
		return snapshot.Commit{}, false, errSnapshotsDisabled
	}
	d, err := s.ExportDocument(ctx, documentID)
	if err != nil {
		return snapshot.Commit{}, false, err
	}
	content, err := snapshotContent(d)
	if err != nil {
		return snapshot.Commit{}, false, err
	}
	if strings.TrimSpace(message) == "" {
		message = "Save " + d.Title
	}
	return s.snapshots.Save(documentID, content, author, message)
}

func snapshotContent(d export.Document) (snapshot.Content, error) {
	body, err := json.Marshal(d.Content)
	if err != nil {
		return snapshot.Content{}, err
	}
	items, err := comments.EncodeItems(d.Comments)
	if err != nil {
		return snapshot.Content{}, err
	}
	return snapshot.Content{Title: d.Title, Document: body, Comments: items}, nil
}

func (s *Service) History(ctx context.Context, documentID string, limit int) ([]snapshot.Commit, error) {
	if s.snapshots == nil {
		return nil, errSnapshotsDisabled
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	commits, err := s.snapshots.History(documentID, limit)
	if errors.Is(err, snapshot.ErrNoHistory) {
		return []snapshot.Commit{}, nil
	}
	return commits, err
}

func (s *Service) Version(ctx context.Context, documentID, hash string) (snapshot.Content, error) {
	if s.snapshots == nil {
		return snapshot.Content{}, errSnapshotsDisabled
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return snapshot.Content{}, err
	}
	return s.snapshots.At(documentID, hash)
}

// SnapshotOpenDocuments records a version of every open document, for
// example on shutdown.
func (s *Service) SnapshotOpenDocuments(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.Sort(ids)
	for _, id := range ids {
		if commit, made, err := s.SaveVersion(ctx, id, "marginalia", "Automatic snapshot"); err != nil {
			s.log.Warn("snapshot document", "document", id, "error", err)
		} else if made {
			s.log.Info("document snapshot", "document", id, "hash", commit.Hash)
		}
	}
}
