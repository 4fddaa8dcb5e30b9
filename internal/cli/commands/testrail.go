package commands

import (
	"context"
	"log/slog"

	"github.com/Gracecr/sacred/internal/cli/config"
	"github.com/Gracecr/sacred/internal/ingest"
	"github.com/Gracecr/sacred/internal/testrail"
	"github.com/Gracecr/sacred/pkg/core"
)

// testRailObservers posts every ingested run to TestRail when the testrail
// section is configured, and returns nil otherwise.
func testRailObservers(cfg *config.TestRail, logger *slog.Logger) ingest.ExtraObservers {
	if !cfg.Enabled() {
		return nil
	}
	client := testrail.NewHTTPClient(cfg.URL, cfg.User, cfg.APIKey, cfg.Timeout)
	trCfg := testrail.Config{
		ProjectID:  cfg.ProjectID,
		CaseID:     cfg.CaseID,
		RunID:      cfg.RunID,
		StoreFiles: cfg.StoreFiles,
	}
	return func(ctx context.Context) ([]core.RunObserver, error) {
		o, err := testrail.New(ctx, client, trCfg, logger)
		if err != nil {
			return nil, err
		}
		return []core.RunObserver{o}, nil
	}
}
