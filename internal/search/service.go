package search

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Service is the facade that tries the search engine first and falls back
// to a slower searcher.
type Service struct {
	engine   Engine
	fallback Searcher
	log      *slog.Logger
	wg       sync.WaitGroup
}

// NewService creates a search service. engine and fallback may be nil.
func NewService(engine Engine, fallback Searcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{engine: engine, fallback: fallback, log: log}
}

func (s *Service) engineReady() bool {
	return s.engine != nil && s.engine.Healthy()
}

// Search tries the engine if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	empty := Response{Results: []Result{}, Query: q.Text}
	if s.engineReady() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("search engine failed, falling back", "error", err)
	}
	if s.fallback == nil {
		return empty
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Warn("fallback search failed", "error", err)
		return empty
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes a document in the background.
func (s *Service) IndexDocument(d DocumentRecord) {
	s.async("index document", d.ID, func() error { return s.engine.IndexDocument(d) })
}

// IndexThread indexes one thread in the background.
func (s *Service) IndexThread(t ThreadRecord) {
	s.async("index thread", t.ID, func() error { return s.engine.IndexThreads([]ThreadRecord{t}) })
}

// DeleteThread removes a thread from the index in the background.
func (s *Service) DeleteThread(id string) {
	s.async("delete thread", id, func() error { return s.engine.DeleteThread(id) })
}

// Reindex pushes the given records to the engine, for example at startup.
func (s *Service) Reindex(documents []DocumentRecord, threads []ThreadRecord) {
	if !s.engineReady() {
		return
	}
	for _, d := range documents {
		if err := s.engine.IndexDocument(d); err != nil {
			s.log.Warn("reindex document", "id", d.ID, "error", err)
		}
	}
	if len(threads) > 0 {
		if err := s.engine.IndexThreads(threads); err != nil {
			s.log.Warn("reindex threads", "count", len(threads), "error", err)
		}
	}
}

func (s *Service) async(op, id string, fn func() error) {
	if !s.engineReady() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			s.log.Warn("search "+op, "id", id, "error", err)
		}
	}()
}

// Wait blocks until background index updates have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
