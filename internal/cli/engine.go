package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/store"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "nomic-embed-text"
)

// openEngine wires the configured backend and embedder into an engine.
// db is set only for the sqlite driver. The returned close func releases
// the backend.
func openEngine(ctx context.Context, cfg config.Config, logw io.Writer) (eng *engine.Engine, db *store.DB, closer func(), err error) {
	var (
		backend store.Backend
		vectors engine.VectorCache
		where   string
	)
	closer = func() {}

	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path, err = store.DefaultDBPath()
			if err != nil {
				return nil, nil, nil, fmt.Errorf("resolve db path: %w", err)
			}
		}
		db, err = store.Open(path, cfg.Store.Timeout)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open database: %w", err)
		}
		backend, vectors, where = store.NewSQLiteBackend(db), db, path
		closer = func() { db.Close() }
	case "postgres":
		pg, err := store.NewPostgresBackend(ctx, cfg.Store.DSN)
		if err != nil {
			// Not fatal: the store runs on its fallback cache and rechecks later.
			fmt.Fprintf(logw, "warning: postgres unavailable (%v), using in-process cache\n", err)
			where = "memory (postgres unavailable)"
		} else {
			backend, where = pg, "postgres"
			closer = pg.Close
		}
	case "memory":
		where = "memory"
	}

	st := store.New(backend, store.Options{
		Timeout:         cfg.Store.Timeout,
		RecheckInterval: cfg.Store.RecheckInterval,
		FetchLimit:      cfg.Store.FetchLimit,
	})
	eng, err = engine.New(st, cfg.Memory)
	if err != nil {
		closer()
		return nil, nil, nil, err
	}
	if vectors != nil {
		eng.SetVectorCache(vectors)
	}
	fmt.Fprintf(logw, "  store: %s\n", where)

	if emb := newEmbedder(cfg.Embedding, logw); emb != nil {
		eng.SetEmbedder(emb, cfg.Embedding.Timeout)
		fmt.Fprintf(logw, "  embedder: %s\n", emb.Model())
	} else {
		fmt.Fprintf(logw, "  embedder: local term similarity\n")
	}

	return eng, db, closer, nil
}

// newEmbedder returns nil when no provider is configured or reachable.
func newEmbedder(cfg config.EmbeddingConfig, logw io.Writer) engine.Embedder {
	switch cfg.Provider {
	case "ollama":
		url, model := cfg.URL, cfg.Model
		if url == "" {
			url = defaultOllamaURL
		}
		if model == "" {
			model = defaultOllamaModel
		}
		if !engine.ProbeOllama(url, model) {
			fmt.Fprintf(logw, "warning: ollama %s not reachable at %s, using local similarity\n", model, url)
			return nil
		}
		return engine.NewOllamaEmbedder(url, model, cfg.Timeout)
	case "openai":
		if cfg.APIKey == "" {
			fmt.Fprintf(logw, "warning: openai embedder has no api key, using local similarity\n")
			return nil
		}
		return engine.NewOpenAIEmbedder(cfg.APIKey, cfg.URL, cfg.Model)
	}
	return nil
}
