package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"marginalia/internal/auth"
	"marginalia/internal/collab"
	"marginalia/internal/doc"
	"marginalia/internal/docio"
	"marginalia/internal/export"
	"marginalia/internal/rbac"
	"marginalia/internal/search"
)

const (
	headerUser = "X-Marginalia-User"
	headerRole = "X-Marginalia-Role"

	maxImportBytes = 10 << 20
)

type HTTPServer struct {
	service     *Service
	relay       *collab.Relay
	corsOrigin  string
	defaultRole rbac.Role
	tokenSecret []byte
	log         *slog.Logger
}

// NewHTTPServer builds the API server. relay may be nil, which disables the
// websocket endpoint.
func NewHTTPServer(service *Service, relay *collab.Relay, log *slog.Logger) *HTTPServer {
	if log == nil {
		log = service.log
	}
	var secret []byte
	if service.cfg.TokenSecret != "" {
		secret = []byte(service.cfg.TokenSecret)
	}
	return &HTTPServer{
		tokenSecret: secret,
		service:     service,
		relay:       relay,
		corsOrigin:  service.cfg.CORSOrigin,
		defaultRole: service.cfg.Role(),
		log:         log,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)

	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Get("/api/search", s.guard(rbac.ActionRead, s.handleSearch))
	r.Post("/api/admin/reindex", s.guard(rbac.ActionAdmin, s.handleReindex))

	r.Route("/api/documents", func(r chi.Router) {
		r.Get("/", s.guard(rbac.ActionRead, s.handleListDocuments))
		r.Post("/", s.guard(rbac.ActionEdit, s.handleCreateDocument))
		r.Post("/import", s.guard(rbac.ActionEdit, s.handleImportDocument))

		r.Route("/{docID}", func(r chi.Router) {
			r.Get("/", s.guard(rbac.ActionRead, s.handleGetDocument))
			r.Put("/", s.guard(rbac.ActionEdit, s.handleRenameDocument))

			r.Put("/selection", s.guard(rbac.ActionRead, s.handleSetSelection))
			r.Delete("/selection", s.guard(rbac.ActionRead, s.handleClearSelection))
			r.Post("/text", s.guard(rbac.ActionEdit, s.handleInsertText))
			r.Delete("/text", s.guard(rbac.ActionEdit, s.handleDeleteSelection))
			r.Post("/paragraph", s.guard(rbac.ActionEdit, s.handleInsertParagraph))
			r.Post("/undo", s.guard(rbac.ActionEdit, s.handleUndo))
			r.Post("/redo", s.guard(rbac.ActionEdit, s.handleRedo))

			r.Get("/active", s.guard(rbac.ActionRead, s.handleActive))
			r.Get("/marks", s.guard(rbac.ActionRead, s.handleMarks))
			r.Post("/comment-input", s.guard(rbac.ActionComment, s.handleOpenCommentInput))
			r.Delete("/comment-input", s.guard(rbac.ActionComment, s.handleCancelCommentInput))

			r.Get("/threads", s.guard(rbac.ActionRead, s.handleThreads))
			r.Post("/threads", s.guard(rbac.ActionComment, s.handleAddThread))
			r.Delete("/threads/{threadID}", s.guard(rbac.ActionResolve, s.handleDeleteThread))
			r.Post("/threads/{threadID}/comments", s.guard(rbac.ActionComment, s.handleReply))
			r.Delete("/threads/{threadID}/comments/{commentID}", s.guard(rbac.ActionComment, s.handleDeleteComment))
			r.Post("/threads/{threadID}/comments/{commentID}/restore", s.guard(rbac.ActionComment, s.handleRestoreComment))

			r.Get("/collaboration", s.guard(rbac.ActionRead, s.handleCollaboration))
			r.Put("/collaboration", s.guard(rbac.ActionComment, s.handleSetCollaboration))

			r.Get("/export", s.guard(rbac.ActionRead, s.handleExport))
			r.Get("/versions", s.guard(rbac.ActionRead, s.handleHistory))
			r.Post("/versions", s.guard(rbac.ActionEdit, s.handleSaveVersion))
			r.Get("/versions/{hash}", s.guard(rbac.ActionRead, s.handleVersion))
		})
	})

	r.Get("/ws/{channel}", s.guard(rbac.ActionComment, s.handleRelay))
	return r
}

// identity is who a request acts as. With a token secret it comes from the
// bearer token; otherwise the proxy in front of the API sets the user and
// role headers.
type identity struct {
	User string
	Role rbac.Role
}

func (s *HTTPServer) identify(r *http.Request) (identity, error) {
	if s.tokenSecret != nil {
		claims, err := auth.FromRequest(s.tokenSecret, r)
		if err != nil {
			return identity{}, err
		}
		return identity{User: claims.User, Role: claims.Role}, nil
	}
	user := strings.TrimSpace(r.Header.Get(headerUser))
	if user == "" {
		user = "anonymous"
	}
	return identity{User: user, Role: rbac.Normalize(r.Header.Get(headerRole), s.defaultRole)}, nil
}

type guardedHandler func(w http.ResponseWriter, r *http.Request, id identity)

// guard resolves the caller and rejects the request unless its role grants action.
func (s *HTTPServer) guard(action rbac.Action, next guardedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.identify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		if err := rbac.Require(id.Role, action); err != nil {
			s.log.Info("request denied", "user", id.User, "role", id.Role, "action", action, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		next(w, r, id)
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok", "backend": s.service.store.Backend()},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status":  "error",
			"backend": s.service.store.Backend(),
			"error":   err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, _ identity) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	query := search.Query{
		Text:       text,
		FilterType: search.ResultType(q.Get("type")),
		DocumentID: q.Get("documentId"),
		Limit:      queryInt(q.Get("limit"), 20),
		Offset:     queryInt(q.Get("offset"), 0),
	}
	switch query.FilterType {
	case "", search.ResultDocument, search.ResultThread:
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be 'document' or 'thread'", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), query))
}

func (s *HTTPServer) handleReindex(w http.ResponseWriter, r *http.Request, _ identity) {
	if err := s.service.Reindex(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request, _ identity) {
	docs, err := s.service.ListDocuments(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request, id identity) {
	var body struct {
		Title   string              `json:"title"`
		Content *doc.SerializedNode `json:"content"`
		Text    string              `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	root := doc.SerializedNode{Type: doc.KindRoot.String()}
	switch {
	case body.Content != nil:
		root = *body.Content
	case body.Text != "":
		imported, err := docio.TextParser{}.Parse(strings.NewReader(body.Text), "")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		root = imported.Root
	}
	view, err := s.service.CreateDocument(r.Context(), body.Title, root, id.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleImportDocument(w http.ResponseWriter, r *http.Request, id identity) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected a multipart upload", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file is required", nil)
		return
	}
	defer file.Close()

	view, err := s.service.ImportDocument(r.Context(), header.Filename, header.Header.Get("Content-Type"), r.FormValue("title"), file, id.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request, _ identity) {
	view, err := s.service.Document(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleRenameDocument(w http.ResponseWriter, r *http.Request, id identity) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.RenameDocument(r.Context(), chi.URLParam(r, "docID"), body.Title, id.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleSetSelection(w http.ResponseWriter, r *http.Request, _ identity) {
	var body struct {
		Anchor *doc.Position `json:"anchor"`
		Focus  *doc.Position `json:"focus"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Anchor == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "anchor is required", nil)
		return
	}
	if body.Focus == nil {
		body.Focus = body.Anchor
	}
	view, err := s.service.SetSelection(r.Context(), chi.URLParam(r, "docID"), *body.Anchor, *body.Focus)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleClearSelection(w http.ResponseWriter, r *http.Request, _ identity) {
	view, err := s.service.ClearSelection(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleInsertText(w http.ResponseWriter, r *http.Request, id identity) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.InsertText(r.Context(), chi.URLParam(r, "docID"), body.Text, id.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleDeleteSelection(w http.ResponseWriter, r *http.Request, id identity) {
	view, err := s.service.DeleteSelection(r.Context(), chi.URLParam(r, "docID"), id.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleInsertParagraph(w http.ResponseWriter, r *http.Request, id identity) {
	view, err := s.service.InsertParagraph(r.Context(), chi.URLParam(r, "docID"), id.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleUndo(w http.ResponseWriter, r *http.Request, id identity) {
	view, moved, err := s.service.Undo(r.Context(), chi.URLParam(r, "docID"), id.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": moved, "document": view})
}

func (s *HTTPServer) handleRedo(w http.ResponseWriter, r *http.Request, id identity) {
	view, moved, err := s.service.Redo(r.Context(), chi.URLParam(r, "docID"), id.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": moved, "document": view})
}

func (s *HTTPServer) handleActive(w http.ResponseWriter, r *http.Request, _ identity) {
	active, err := s.service.Active(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *HTTPServer) handleMarks(w http.ResponseWriter, r *http.Request, _ identity) {
	marks, err := s.service.MarkMap(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marks": marks})
}

func (s *HTTPServer) handleOpenCommentInput(w http.ResponseWriter, r *http.Request, _ identity) {
	active, err := s.service.OpenCommentInput(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *HTTPServer) handleCancelCommentInput(w http.ResponseWriter, r *http.Request, _ identity) {
	active, err := s.service.CancelCommentInput(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *HTTPServer) handleThreads(w http.ResponseWriter, r *http.Request, _ identity) {
	items, err := s.service.Threads(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type commentBody struct {
	Body string `json:"body"`
}

func (s *HTTPServer) handleAddThread(w http.ResponseWriter, r *http.Request, id identity) {
	var body commentBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	thread, err := s.service.AddThread(r.Context(), chi.URLParam(r, "docID"), id.User, body.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

func (s *HTTPServer) handleReply(w http.ResponseWriter, r *http.Request, id identity) {
	var body commentBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	comment, err := s.service.Reply(r.Context(), chi.URLParam(r, "docID"), chi.URLParam(r, "threadID"), id.User, body.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request, _ identity) {
	d, err := s.service.DeleteComment(r.Context(), chi.URLParam(r, "docID"), chi.URLParam(r, "threadID"), chi.URLParam(r, "commentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": d.Item, "index": d.Index})
}

func (s *HTTPServer) handleRestoreComment(w http.ResponseWriter, r *http.Request, _ identity) {
	thread, err := s.service.RestoreComment(r.Context(), chi.URLParam(r, "docID"), chi.URLParam(r, "threadID"), chi.URLParam(r, "commentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (s *HTTPServer) handleDeleteThread(w http.ResponseWriter, r *http.Request, id identity) {
	if err := s.service.DeleteThread(r.Context(), chi.URLParam(r, "docID"), chi.URLParam(r, "threadID"), id.User); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCollaboration(w http.ResponseWriter, r *http.Request, _ identity) {
	status, err := s.service.Collaboration(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleSetCollaboration(w http.ResponseWriter, r *http.Request, _ identity) {
	var body struct {
		Connected *bool `json:"connected"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Connected == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "connected is required", nil)
		return
	}
	status, err := s.service.SetCollaboration(r.Context(), chi.URLParam(r, "docID"), *body.Connected)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, _ identity) {
	q := r.URL.Query()
	format, ok := export.ParseFormat(q.Get("format"))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'html' or 'pdf'", nil)
		return
	}
	includeThreads := true
	if v := q.Get("threads"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "threads must be a boolean", nil)
			return
		}
		includeThreads = parsed
	}

	result, err := s.service.Export(r.Context(), export.Request{
		DocumentID:     chi.URLParam(r, "docID"),
		Format:         format,
		IncludeThreads: includeThreads,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, _ identity) {
	commits, err := s.service.History(r.Context(), chi.URLParam(r, "docID"), queryInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *HTTPServer) handleSaveVersion(w http.ResponseWriter, r *http.Request, id identity) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	commit, created, err := s.service.SaveVersion(r.Context(), chi.URLParam(r, "docID"), id.User, body.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"commit": commit, "created": created})
}

func (s *HTTPServer) handleVersion(w http.ResponseWriter, r *http.Request, _ identity) {
	content, err := s.service.Version(r.Context(), chi.URLParam(r, "docID"), chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *HTTPServer) handleRelay(w http.ResponseWriter, r *http.Request, _ identity) {
	if s.relay == nil {
		writeError(w, http.StatusConflict, "COLLABORATION_DISABLED", "Collaboration is not configured", nil)
		return
	}
	s.relay.ServeChannel(w, r, chi.URLParam(r, "channel"))
}

// requestLogger sets the shared response headers and logs every request
// with its status and duration.
func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(sw.Header(), s.corsOrigin)
		if id := middleware.GetReqID(r.Context()); id != "" {
			sw.Header().Set("X-Request-ID", id)
		}
		next.ServeHTTP(sw, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack lets the websocket relay take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, "+headerUser+", "+headerRole)
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
