package main

import (
	"context"
	"fmt"

	"github.com/keenturbo/dropradar/internal/ai"
	"github.com/keenturbo/dropradar/internal/authority"
	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/expiry"
	"github.com/keenturbo/dropradar/internal/fallback"
	"github.com/keenturbo/dropradar/internal/listing"
	"github.com/keenturbo/dropradar/internal/logger"
	"github.com/keenturbo/dropradar/internal/metrics"
	"github.com/keenturbo/dropradar/internal/scan"
	"github.com/keenturbo/dropradar/internal/storage"
	"github.com/keenturbo/dropradar/internal/storage/postgres"
)

// openRepository returns the store selected by storage.driver.
func openRepository(ctx context.Context, cfg config.StorageConfig) (storage.Repository, error) {
	if cfg.Driver == "postgres" {
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	dsn := cfg.DBPath
	if cfg.Driver == "mysql" {
		dsn = cfg.DSN
	}
	store, err := storage.New(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// buildOrchestrator assembles the tier chain in fallback order. Tiers whose
// configuration is disabled or lacks credentials are left out.
func buildOrchestrator(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*scan.Orchestrator, error) {
	var tiers []scan.Tier

	if cfg.Listing.Enabled {
		src, err := listing.New(listing.ConfigFrom(cfg.Listing), listing.LayoutFromConfig(cfg.Listing.Columns),
			listing.WithMetrics(m))
		if err != nil {
			return nil, fmt.Errorf("listing source: %w", err)
		}

		var estimator authority.Estimator = authority.Heuristic{}
		if cfg.AuthorityEnabled() {
			estimator = authority.NewOpenPageRank(cfg.Authority, m)
		} else {
			logger.Warn("No authority API key configured, DA values are estimated")
		}

		primary := &scan.PrimaryTier{
			Lister:    src,
			Pages:     cfg.Listing.Pages,
			Authority: estimator,
		}
		if cfg.Expiry.Enabled {
			primary.Verifier = expiry.New(expiry.NewWhoisLookup(cfg.Expiry.Timeout), expiry.ConfigFrom(cfg.Expiry),
				expiry.WithMetrics(m))
			primary.VerifyLimit = cfg.Expiry.VerifyLimit
		}
		tiers = append(tiers, primary)
	}

	if cfg.Fallback.Enabled {
		tiers = append(tiers, &scan.CombinatorialTier{
			Generator: fallback.NewCombinatorial(cfg.Fallback, nil),
			Count:     cfg.Fallback.Count,
		})
	}

	backend, err := ai.FromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("generative backend: %w", err)
	}
	if backend != nil {
		tiers = append(tiers, &scan.GenerativeTier{
			Generator: fallback.NewGenerative(backend, cfg.AI),
			Count:     cfg.AI.Count,
		})
		logger.Info("Generative tier enabled (%s)", backend.Name())
	} else {
		logger.Debug("Generative tier disabled")
	}

	if len(tiers) == 0 {
		return nil, fmt.Errorf("no scan tiers enabled")
	}

	return scan.New(scan.Config{
		MinCandidates: cfg.Scan.MinCandidates,
		TopN:          cfg.Scan.TopN,
	}, tiers, scan.WithMetrics(m)), nil
}
