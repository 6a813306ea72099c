package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/agents"
	"github.com/example/research-orchestrator/internal/api"
	"github.com/example/research-orchestrator/internal/cache"
	"github.com/example/research-orchestrator/internal/config"
	"github.com/example/research-orchestrator/internal/logger"
	"github.com/example/research-orchestrator/internal/orchestrator"
	"github.com/example/research-orchestrator/internal/providers/llm"
	"github.com/example/research-orchestrator/internal/providers/search"
	"github.com/example/research-orchestrator/internal/providers/youtube"
	"github.com/example/research-orchestrator/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		Development: cfg.Log.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := orchestrator.ParseFailurePolicy(cfg.Research.FailurePolicy)
	if err != nil {
		return err
	}

	client := llm.New(ctx, cfg.LLM, log)
	if c, ok := client.(io.Closer); ok {
		defer c.Close()
	}
	provider := search.New(cfg.Search, log)
	log.Info("providers selected",
		zap.String("llm", llm.ProviderName(client)),
		zap.String("search", search.ProviderName(provider)))

	if cfg.Redis.Enabled {
		rdb, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, responses will not be cached", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			defer rdb.Close()
			rc := cache.NewRedisCache(rdb, cfg.Redis.TTL, log)
			provider = &cache.Search{Provider: provider, Cache: rc, Logger: log}
			// LLM responses are cached only at temperature 0
			if cfg.LLM.Temperature == 0 {
				client = &cache.Client{Client: client, Cache: rc, Logger: log}
			}
			log.Info("response cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
		}
	}

	fetcher := tools.NewFetcher()
	orch := orchestrator.New(orchestrator.Deps{
		Decomposer: &agents.LLMDecomposer{Client: client, Logger: log, Timeout: cfg.Research.CallTimeout},
		Researcher: &agents.WebResearcher{
			Client:          client,
			Search:          provider,
			MaxResults:      cfg.Search.MaxResults,
			Fetcher:         fetcher,
			FetchPages:      cfg.Search.FetchPages,
			MinSnippetChars: cfg.Search.MinSnippetChars,
			Timeout:         cfg.Research.CallTimeout,
			Logger:          log,
		},
		Synthesizer: &agents.LLMSynthesizer{Client: client, Logger: log, Timeout: cfg.Research.CallTimeout},
		LLM:         client,
		Search:      provider,
		Transcripts: youtube.NewHTTPSource(),
	}, orchestrator.Options{
		FailurePolicy:   policy,
		MaxParallel:     cfg.Research.MaxParallel,
		PreviewMaxBytes: cfg.Server.PreviewMaxBytes,
		TargetLanguage:  cfg.YouTube.TargetLanguage,
		EventBuffer:     cfg.Server.EventBufferSize,
		TokenFlush:      time.Duration(cfg.Server.TokenFlushMillis) * time.Millisecond,
	}, log)
	defer orch.Close()

	mux := http.NewServeMux()
	api.NewServer(ctx, orch, log).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           cors(api.LogRequests(log, mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// simple CORS middleware for local dev
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
