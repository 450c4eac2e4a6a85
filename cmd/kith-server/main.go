// Command kith-server runs the kith relationship memory server: identity
// resolution, person merging, and semantic recall over a local SQLite
// store, with an optional PostgreSQL/pgvector embedding backend.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/mosswell/kith/internal/config"
	"github.com/mosswell/kith/internal/embed"
	"github.com/mosswell/kith/internal/engine"
	"github.com/mosswell/kith/internal/identity"
	"github.com/mosswell/kith/internal/server"
	"github.com/mosswell/kith/internal/storage"
	"github.com/mosswell/kith/internal/storage/postgres"
	"github.com/mosswell/kith/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadConfigFile(*configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := sqlite.Open(filepath.Join(cfg.Storage.DataPath, "kith.db"))
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// The SQLite store carries embeddings by default; a postgres DSN swaps
	// in the pgvector-backed provider for larger corpora.
	var embeddings storage.EmbeddingProvider = store
	if cfg.Storage.Engine == "postgres" && cfg.Storage.PostgresDSN != "" {
		pgDB, err := sql.Open("postgres", cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to open postgres: %v", err)
		}
		defer pgDB.Close()

		pg, err := postgres.NewEmbeddingProvider(pgDB, cfg.Embedding.Dimension)
		if err != nil {
			log.Fatalf("Failed to initialize postgres embedding backend: %v", err)
		}
		embeddings = pg
		log.Printf("Using postgres embedding backend")
	}

	embedder := embed.NewOllamaClient(embed.OllamaConfig{
		BaseURL:           cfg.Embedding.OllamaURL,
		Model:             cfg.Embedding.Model,
		Dimension:         cfg.Embedding.Dimension,
		Timeout:           cfg.Embedding.Timeout,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})

	matcher, err := identity.NewMatcher(identity.Config{
		ExactNameWeight:   cfg.Matcher.ExactNameWeight,
		FullNameWeight:    cfg.Matcher.FullNameWeight,
		PartialNameWeight: cfg.Matcher.PartialNameWeight,
		NicknameWeight:    cfg.Matcher.NicknameWeight,
		OrgWeight:         cfg.Matcher.OrgWeight,
		HandleWeight:      cfg.Matcher.HandleWeight,
		MatchThreshold:    cfg.Matcher.MatchThreshold,
		NoMatchThreshold:  cfg.Matcher.NoMatchThreshold,
		CloseScoreMargin:  cfg.Matcher.CloseScoreMargin,
	})
	if err != nil {
		log.Fatalf("Invalid matcher configuration: %v", err)
	}

	eng, err := engine.New(engine.Deps{
		Persons:      store,
		Interactions: store,
		Embeddings:   embeddings,
		Analytics:    store,
		Embedder:     embedder,
		Matcher:      matcher,
	}, engine.Config{
		CacheSize:        cfg.Search.CacheSize,
		OverfetchFactor:  cfg.Search.OverfetchFactor,
		ClusterThreshold: cfg.Search.ClusterThreshold,
		DefaultLimit:     cfg.Search.DefaultLimit,
	})
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	if err := eng.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, _, err := server.Start(ctx, cfg, eng, store, store, embeddings)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	fmt.Printf("kith running at http://%s\n", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down engine: %v", err)
	}

	cancel()
	time.Sleep(1 * time.Second)
}
