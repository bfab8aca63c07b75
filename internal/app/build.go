// Package app wires configuration into a runnable server.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/milleriumage/drarena/internal/arena"
	"github.com/milleriumage/drarena/internal/config"
	"github.com/milleriumage/drarena/internal/credits"
	"github.com/milleriumage/drarena/internal/httpapi"
	"github.com/milleriumage/drarena/internal/live"
	"github.com/milleriumage/drarena/internal/observability"
	"github.com/milleriumage/drarena/internal/payments"
	"github.com/milleriumage/drarena/internal/persona"
	"github.com/milleriumage/drarena/internal/storage"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *arena.Manager
	Adapter  live.Adapter
	Catalog  *persona.Catalog
	Credits  credits.Store
	Payments *payments.Service
	Metrics  *observability.Metrics

	// Cleanup releases external resources (DB pool) on shutdown.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	catalog, err := persona.LoadCatalog(cfg.PersonaCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("persona catalog init failed: %w", err)
	}

	var pool *pgxpool.Pool
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err = storage.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		if err := storage.Migrate(pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database migrate failed: %w", err)
		}
	}

	creditsStore := credits.NewStore(pool, cfg.StartingCredits)

	adapter, err := live.NewAdapter(live.Config{
		Mode:              cfg.LiveAdapterMode,
		APIKey:            cfg.GeminiAPIKey,
		CaptureSampleRate: cfg.CaptureSampleRate,
	})
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("live adapter init failed: %w", err)
	}

	var paymentsService *payments.Service
	if strings.TrimSpace(cfg.MercadoPagoAccessToken) != "" {
		provider := payments.NewMercadoPagoClient(cfg.MercadoPagoAPIBase, cfg.MercadoPagoAccessToken)
		paymentsService = payments.NewService(provider, payments.NewStore(pool), creditsStore, metrics)
	} else {
		log.Printf("app: MERCADOPAGO_ACCESS_TOKEN not set, payments disabled")
	}

	sessions := arena.NewManager(cfg.ConnectTimeout)
	sessions.SetExpireHook(func(_ *arena.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
	})

	api := httpapi.New(cfg, sessions, adapter, catalog, creditsStore, paymentsService, metrics)

	cleanup := func() error {
		creditsStore.Close()
		if pool != nil {
			pool.Close()
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Adapter:  adapter,
		Catalog:  catalog,
		Credits:  creditsStore,
		Payments: paymentsService,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
