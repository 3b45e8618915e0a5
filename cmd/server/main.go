package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/artobs/taxongrid/internal/buildlock"
	"github.com/artobs/taxongrid/internal/config"
	"github.com/artobs/taxongrid/internal/httpapi"
	"github.com/artobs/taxongrid/internal/ingest"
	"github.com/artobs/taxongrid/internal/logger"
	"github.com/artobs/taxongrid/internal/model"
	"github.com/artobs/taxongrid/internal/observability"
	"github.com/artobs/taxongrid/internal/query"
	"github.com/artobs/taxongrid/internal/resultcache"
	"github.com/artobs/taxongrid/internal/store"
	"github.com/artobs/taxongrid/internal/upstream"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	flagAddr     string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "taxongrid",
	Short: "Taxon hotspot grid service",
	Long: `taxongrid ingests per-taxon spatial observation aggregates from an
upstream species-observation API, materializes a multi-zoom, multi-season
tile grid, and serves distance-weighted hotspot queries over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides ADDR env)")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides LOG_LEVEL env)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe() error {
	cfg := config.FromEnv()
	if flagAddr != "" {
		cfg.Addr = flagAddr
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	base := logger.Build(logger.Config{Level: cfg.LogLevel, Console: cfg.LogConsole, Component: "taxongrid"}, os.Stdout)
	base.Info().Str("version", Version).Str("addr", cfg.Addr).Msg("starting")

	if err := os.MkdirAll(cfg.DBDir, 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DBDir, "taxongrid.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	client := upstream.New(upstream.Config{
		BaseURL:         cfg.BaseURL,
		SubscriptionKey: cfg.SubscriptionKey,
		Authorization:   cfg.Authorization,
		Timeout:         cfg.UpstreamTimeout,
		MinInterval:     cfg.UpstreamMinInterval,
		MaxRetries:      cfg.UpstreamMaxRetries,
	})

	observability.Init(prometheus.DefaultRegisterer, cfg.MetricsEnabled)

	pipeline := ingest.New(st, client, base)
	pipeline.CoverageBBox = model.BBox{
		TopLat:    cfg.CoverageTopLat,
		LeftLon:   cfg.CoverageLeftLon,
		BottomLat: cfg.CoverageBottomLat,
		RightLon:  cfg.CoverageRightLon,
	}
	queryEngine := query.New(st)

	var cachedQuery *resultcache.CachedQuery
	if cfg.ResultCacheLRUSize > 0 {
		var redisClient resultcache.RedisClient
		if cfg.RedisAddr != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			adapter, rerr := resultcache.NewRedisAdapter(ctx, cfg.RedisAddr)
			cancel()
			if rerr != nil {
				base.Warn().Err(rerr).Msg("redis result cache tier unavailable, continuing with in-process tier only")
			} else {
				redisClient = adapter
			}
		}
		cache, cerr := resultcache.New(cfg.ResultCacheLRUSize, cfg.ResultCacheTTL, redisClient)
		if cerr != nil {
			return fmt.Errorf("build result cache: %w", cerr)
		}
		cachedQuery = resultcache.NewCachedQuery(cache)
	}

	srv := &httpapi.Server{
		Query:        queryEngine,
		Pipeline:     pipeline,
		BuildLock:    buildlock.New(),
		CachedQuery:  cachedQuery,
		TaxaListPath: filepath.Join(cfg.ListsDir, "taxa.csv"),
		DefaultAlpha: cfg.HotmapAlpha,
		DefaultBeta:  cfg.HotmapBeta,
		Logger:       base,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return httpapi.Run(ctx, cfg.Addr, srv.Router(), base, cfg.ShutdownTimeout)
}
