// Package httpapi implements the chi-routed HTTP façade: health, pipeline
// build, and the read-only hotmap/cell-taxa/rank-nearby endpoints. Handlers
// parse and validate query parameters, delegate to the ingest pipeline or
// query engine, and translate the error taxonomy into HTTP status codes.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artobs/taxongrid/internal/buildlock"
	"github.com/artobs/taxongrid/internal/ingest"
	"github.com/artobs/taxongrid/internal/query"
	"github.com/artobs/taxongrid/internal/resultcache"
)

// Server holds the wiring every handler needs.
type Server struct {
	Query        *query.Engine
	Pipeline     *ingest.Pipeline
	BuildLock    *buildlock.BuildLock
	CachedQuery  *resultcache.CachedQuery // nil disables the result cache
	TaxaListPath string
	DefaultAlpha float64
	DefaultBeta  float64
	Logger       zerolog.Logger
}

// Router builds the chi router wiring middleware and every endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.Logger))
	r.Use(Logging(s.Logger))
	r.Use(CORS())

	r.Get("/api/health", s.handleHealth)
	r.Post("/api/pipeline/build", s.handleBuild)
	r.Get("/api/hotmap", s.handleHotmap)
	r.Get("/api/hotmap_window", s.handleHotmapWindow)
	r.Get("/api/hotmap/export.csv", s.handleExportCSV)
	r.Get("/api/cell/taxa", s.handleCellTaxa)
	r.Get("/api/cell/taxa_window", s.handleCellTaxaWindow)
	r.Get("/api/rank_nearby", s.handleRankNearby)
	return r
}

// Run serves the router on addr until ctx is canceled, then shuts down
// within shutdownTimeout.
func Run(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("http listen")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
