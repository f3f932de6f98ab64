package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sha1n/index-bridge/internal/config"
	"github.com/sha1n/index-bridge/internal/content"
	"github.com/sha1n/index-bridge/internal/indexmgr"
	"github.com/sha1n/index-bridge/internal/metadata"
	"github.com/sha1n/index-bridge/internal/namespace"
	"github.com/sha1n/index-bridge/internal/pipeline"
	"github.com/sha1n/index-bridge/internal/repoclient"
	"github.com/sha1n/index-bridge/internal/searchclient"
	"github.com/spf13/pflag"
)

// RunParams contains dependencies for the run function, injected so tests
// can substitute settings loading and validation without touching the
// environment.
type RunParams struct {
	LoadSettings  func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings func(*config.Settings) error
}

// DefaultRunParams returns production dependencies.
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:  config.LoadSettingsWithFlags,
		ValidSettings: config.ValidateSettings,
	}
}

// RunWithDeps loads and validates settings, wires every collaborator, and
// runs the pipeline controller until ctx is canceled.
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	slog.Info("starting index bridge", "version", version)
	config.LogWithLogger(settings, slog.Default())

	repo, err := repoclient.New(settings.Repository)
	if err != nil {
		return fmt.Errorf("building repository client: %w", err)
	}

	search, err := searchclient.New(settings.Search)
	if err != nil {
		return fmt.Errorf("building search client: %w", err)
	}

	idxMgr := indexmgr.New(search, settings.Search.Index)
	mapper := namespace.New(repo)
	resolver := metadata.New(repo)
	contentPool := content.New(repo, search, settings.Search.Index.Name, settings.Indexer.ContentThreads)

	// Startup health gate: fail fast if the required indices cannot be
	// created rather than discovering it on the first pipeline cycle.
	if err := idxMgr.Ensure(ctx); err != nil {
		return fmt.Errorf("ensuring indices: %w", err)
	}
	if !idxMgr.Ready() {
		return fmt.Errorf("index manager reports not ready after ensure")
	}

	controller := pipeline.New(pipeline.Config{
		DataIndex:     settings.Search.Index.Name,
		MaxResults:    settings.Indexer.MaxResults,
		CycleInterval: settings.Indexer.CycleInterval,
		LockFile:      settings.Indexer.LockFile,
		StateFile:     settings.Indexer.StateFile,
	}, repo, search, idxMgr, mapper, resolver, contentPool)

	return controller.Run(ctx)
}
