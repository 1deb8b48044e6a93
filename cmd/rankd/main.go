// Command rankd serves ranked audio search over HTTP: POST /search runs the
// ranking pipeline, POST /feedback/{item_id} records engagement events.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/doujins-org/rankkit"
	"github.com/doujins-org/rankkit/catalog"
	"github.com/doujins-org/rankkit/embedder"
	"github.com/doujins-org/rankkit/migrate"
	"github.com/doujins-org/rankkit/ranking"
	"github.com/doujins-org/rankkit/rerank"
	"github.com/doujins-org/rankkit/retrieve"
	"github.com/doujins-org/rankkit/stats"
)

// serverConfig holds the infrastructure endpoints, separate from the
// ranking tunables in rankkit.Config. Loaded from RANKD_* env vars.
type serverConfig struct {
	Addr        string `koanf:"addr"`
	DatabaseURL string `koanf:"database_url"`
	Schema      string `koanf:"schema"`
	RedisURL    string `koanf:"redis_url"`
	LogLevel    string `koanf:"log_level"`
	Migrate     bool   `koanf:"migrate"`

	EmbedBaseURL string `koanf:"embed_base_url"`
	EmbedAPIKey  string `koanf:"embed_api_key"`
	EmbedModel   string `koanf:"embed_model"`
	EmbedDims    int    `koanf:"embed_dims"`

	RerankBaseURL string `koanf:"rerank_base_url"`
	RerankAPIKey  string `koanf:"rerank_api_key"`
	RerankModel   string `koanf:"rerank_model"`
}

func loadServerConfig() (serverConfig, error) {
	defaults := serverConfig{
		Addr:       ":8080",
		Schema:     "public",
		LogLevel:   "info",
		EmbedModel: "qwen-3-embedding-4b",
		EmbedDims:  1024,
	}
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return serverConfig{}, err
	}
	if err := k.Load(env.Provider("RANKD_", ".", func(key string) string {
		return strings.ToLower(strings.TrimPrefix(key, "RANKD_"))
	}), nil); err != nil {
		return serverConfig{}, err
	}
	var cfg serverConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return serverConfig{}, err
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to ranking config YAML")
	backfill := flag.Bool("backfill", false, "embed items missing embeddings, then exit")
	flag.Parse()

	if err := run(*configPath, *backfill); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, backfill bool) error {
	srvCfg, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("load server config: %w", err)
	}

	level, err := zerolog.ParseLevel(srvCfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "rankd").Logger()

	cfg, err := rankkit.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if srvCfg.DatabaseURL == "" {
		return fmt.Errorf("RANKD_DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, srvCfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if srvCfg.Migrate {
		if err := migrate.ApplyPostgres(ctx, pool, srvCfg.Schema); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		log.Info().Str("schema", srvCfg.Schema).Msg("migrations applied")
	}

	if backfill {
		emb, err := buildEmbedder(srvCfg)
		if err != nil {
			return err
		}
		n, err := catalog.RunBackfill(ctx, pool, srvCfg.Schema, emb, catalog.BackfillOptions{
			MaxRuntime: 10 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
		log.Info().Int("embedded", n).Msg("backfill complete")
		return nil
	}

	pipeline, err := buildPipeline(cfg, srvCfg, pool, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         srvCfg.Addr,
		Handler:      newServer(pipeline, pool, log).routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srvCfg.Addr).Msg("rankd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	pipeline.Drain()
	log.Info().Msg("stopped")
	return nil
}

func buildEmbedder(srvCfg serverConfig) (*embedder.OpenAICompatibleEmbedder, error) {
	emb, err := embedder.NewOpenAICompatible(embedder.OpenAICompatibleConfig{
		BaseURL:    srvCfg.EmbedBaseURL,
		APIKey:     srvCfg.EmbedAPIKey,
		Model:      srvCfg.EmbedModel,
		Dimensions: srvCfg.EmbedDims,
	})
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}
	return emb, nil
}

func buildPipeline(cfg rankkit.Config, srvCfg serverConfig, pool *pgxpool.Pool, log zerolog.Logger) (*rankkit.Pipeline, error) {
	emb, err := buildEmbedder(srvCfg)
	if err != nil {
		return nil, err
	}

	var queryEmbedder embedder.Embedder = emb
	if srvCfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(srvCfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		queryEmbedder = embedder.NewCached(emb, redis.NewClient(redisOpts), 0, log)
	}

	retriever, err := retrieve.NewPGRetriever(pool, srvCfg.Schema, srvCfg.EmbedDims, retrieve.PGOptions{
		TwoStage:         cfg.TwoStage,
		OversampleFactor: cfg.OversampleFactor,
	})
	if err != nil {
		return nil, fmt.Errorf("build retriever: %w", err)
	}

	bias := ranking.NewPositionBias(cfg.BiasAlpha, cfg.BiasFloor)
	store, err := stats.NewPostgresStore(pool, srvCfg.Schema, bias.Weight, stats.PostgresOptions{LogInteractions: true})
	if err != nil {
		return nil, fmt.Errorf("build statistics store: %w", err)
	}

	var reranker rerank.Reranker
	if cfg.RerankEnabled && srvCfg.RerankBaseURL != "" {
		rr, err := rerank.NewHTTP(rerank.HTTPConfig{
			BaseURL: srvCfg.RerankBaseURL,
			APIKey:  srvCfg.RerankAPIKey,
			Model:   srvCfg.RerankModel,
		})
		if err != nil {
			return nil, fmt.Errorf("build reranker: %w", err)
		}
		reranker = rr
	}

	return rankkit.NewPipeline(cfg, rankkit.Options{
		Embedder:  queryEmbedder,
		Retriever: retriever,
		Store:     store,
		Reranker:  reranker,
		Logger:    &log,
	})
}
