package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"marginalia/internal/app"
	"marginalia/internal/auth"
	"marginalia/internal/collab"
	"marginalia/internal/config"
	"marginalia/internal/rbac"
	"marginalia/internal/search"
	"marginalia/internal/snapshot"
	"marginalia/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			log.Error("issue token", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, log); err != nil {
		log.Error("marginalia stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := app.Dependencies{Log: log}

	var fallback search.Searcher
	switch cfg.StoreBackend {
	case store.BackendPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.ApplyMigrationsDir(ctx, db, cfg.MigrationsDir); err != nil {
			return err
		}
		pgfts := search.NewPgFTS(db)
		deps.Store = store.NewPostgresStore(db)
		deps.Records = pgfts
		fallback = pgfts
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
			return err
		}
		bolt, err := store.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return err
		}
		deps.Store = bolt
		fallback = search.NewBoltScan(bolt)
	}
	defer deps.Store.Close()
	log.Info("store ready", "backend", deps.Store.Backend())

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log.With("component", "meilisearch"))
		defer meili.Close()
		engine = meili
	}
	deps.Search = search.NewService(engine, fallback, log.With("component", "search"))

	switch cfg.CollabBackend {
	case config.CollabRedis:
		client, err := collab.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		deps.Collab = collab.NewRedisFactory(client, "", log.With("component", "collab"))
	case config.CollabWebSocket:
		deps.Collab = collab.NewWebSocketFactory(cfg.RelayURL, log.With("component", "collab"))
	default:
		deps.Collab = collab.NewHub().Factory()
	}
	log.Info("collaboration ready", "backend", cfg.CollabBackend)

	if cfg.Snapshots {
		if err := os.MkdirAll(cfg.SnapshotDir, 0o755); err != nil {
			return err
		}
		deps.Snapshots = snapshot.New(cfg.SnapshotDir)
	}

	service := app.New(cfg, deps)
	if err := service.Reindex(ctx); err != nil {
		log.Warn("reindex at startup", "error", err)
	}

	relay := collab.NewRelay(deps.Collab, collab.NewRegistry(), log.With("component", "relay"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, relay, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("marginalia listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "error", err)
	}
	service.SnapshotOpenDocuments(shutdownCtx)
	service.Close()
	return nil
}

// issueToken prints a bearer token for the API:
//
//	marginalia token -ttl 24h ada editor
func issueToken(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.TokenSecret == "" {
		return errors.New("MARGINALIA_TOKEN_SECRET is not set")
	}
	if fs.NArg() != 2 {
		return errors.New("usage: marginalia token [-ttl duration] <user> <role>")
	}
	token, err := auth.Issue([]byte(cfg.TokenSecret), fs.Arg(0), rbac.Role(fs.Arg(1)), *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
