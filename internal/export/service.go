package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

const defaultTimeout = 30 * time.Second

// Source loads the document and its comments for export.
type Source interface {
	ExportDocument(ctx context.Context, id string) (Document, error)
}

// Service provides document export functionality
type Service struct {
	source     Source
	chromePath string
	timeout    time.Duration
	log        *slog.Logger
}

type Option func(*Service)

// WithChromePath pins the browser binary used for PDF output.
func WithChromePath(path string) Option {
	return func(s *Service) { s.chromePath = path }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(source Source, opts ...Option) *Service {
	s := &Service{
		source:  source,
		timeout: defaultTimeout,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format != FormatHTML && req.Format != FormatPDF {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	d, err := s.source.ExportDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContentUnavailable, err)
	}

	html, err := RenderHTML(d, req.IncludeThreads)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	if req.Format == FormatHTML {
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(d.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	}

	start := time.Now()
	res, err := s.renderPDF(ctx, html, d.Title)
	if err != nil {
		s.log.Warn("pdf export failed", "document", req.DocumentID, "error", err)
		return nil, err
	}
	s.log.Info("pdf exported", "document", req.DocumentID, "bytes", len(res.Data), "duration", time.Since(start))
	return res, nil
}
