package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/khetibazaar/mandicore/internal/negotiation"
	"github.com/khetibazaar/mandicore/internal/pipeline"
	"github.com/khetibazaar/mandicore/internal/platform/agmark"
	"github.com/khetibazaar/mandicore/internal/pricing"
	"github.com/khetibazaar/mandicore/internal/server"
	"github.com/khetibazaar/mandicore/internal/server/handler"
	"github.com/khetibazaar/mandicore/internal/server/ws"
)

// buildNegotiationService assembles the pricing resolver and the negotiation
// core from the wired dependencies.
func (a *App) buildNegotiationService(deps *Dependencies) *negotiation.Service {
	resolver := pricing.NewResolver(
		deps.PriceStore,
		pricing.EmbeddedStateAverages(),
		deps.ReferenceCache,
		pricing.ResolverConfig{
			LookupTimeout:    a.cfg.Pricing.RegionalTimeout.Duration,
			CandidateLimit:   a.cfg.Pricing.CandidateLimit,
			NationalBaseline: a.cfg.Pricing.NationalBaseline,
			CacheTTL:         a.cfg.Pricing.CacheTTL.Duration,
		},
		a.logger,
	)

	return negotiation.NewService(
		deps.NegotiationStore,
		deps.Feed,
		deps.AuditStore,
		resolver,
		a.cfg.Pricing.BulkMinimum,
		a.logger,
	)
}

// ServeMode runs the HTTP + WebSocket API server.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// SyncMode runs the price ingestion pipeline and, when S3 is wired, the
// archival cron.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startDataPipeline(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the API server and the ingestion pipeline together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.Ingest.Enabled {
		a.startDataPipeline(ctx, g, deps)
	}

	return g.Wait()
}

// startHTTPServer builds the handlers, the WebSocket hub, and the server,
// and registers them on the errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	svc := a.buildNegotiationService(deps)

	hub := ws.NewHub(deps.SignalBus, svc, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(deps.PriceStore, a.logger),
		Negotiations: handler.NewNegotiationHandler(svc, a.logger),
		Prices:       handler.NewPriceHandler(svc, deps.PriceStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	// Shut the server down when the group context is cancelled.
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startDataPipeline starts the feed sync loop and, when an archiver is
// wired, the archival cron.
func (a *App) startDataPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	feedClient := agmark.NewClient(
		a.cfg.Agmark.BaseURL,
		a.cfg.Agmark.ResourceID,
		a.cfg.Agmark.ApiKey,
	).WithStateFilter(a.cfg.Agmark.StateFilter)

	sync := pipeline.NewPriceSync(feedClient, deps.PriceStore, deps.LockManager, a.logger)
	g.Go(func() error {
		return sync.RunLoop(ctx, a.cfg.Ingest.SyncInterval.Duration)
	})

	if deps.Archiver != nil && a.cfg.Ingest.ArchiveCron != "" {
		arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Ingest.ArchiveRetentionDays, a.logger)
		g.Go(func() error {
			return arch.RunCron(ctx, a.cfg.Ingest.ArchiveCron)
		})
	}
}
