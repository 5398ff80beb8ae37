// Package app wires the orchestrator's packages together into one
// long-lived object a CLI subcommand drives: configuration and package
// repository loading, the audit store connection, the staging/release
// stores, and the handful of high-level operations (build, release
// promotion, administrative queries) every subcommand is built from.
// Generalized from the teacher's internal/app/app.go split between
// NewApp (load everything, panic on a fatal startup error) and Run
// (drive one execution using what NewApp already built).
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/forgegrid/internal/appconfig"
	"github.com/vk/forgegrid/internal/audit"
	"github.com/vk/forgegrid/internal/ctxlog"
	"github.com/vk/forgegrid/internal/filestore"
	"github.com/vk/forgegrid/internal/pkgmodel"
	"github.com/vk/forgegrid/internal/pkgrepo"
	"github.com/vk/forgegrid/internal/source"
)

// Config holds the startup parameters App needs before appconfig
// itself is loaded and the package repository is walked.
type Config struct {
	ConfigPath string // base YAML config file; may be empty
	WorkingDir string // directory .forgegrid.yml overrides are walked from
	RepoPath   string // package repository root
	LogFormat  string
	LogLevel   string
}

// App encapsulates the orchestrator's dependencies and configuration,
// built once per process invocation.
type App struct {
	outW   io.Writer
	logger *slog.Logger

	Config *appconfig.Config
	Repo   *pkgmodel.Repository
	Audit  *audit.Store

	Staging  *filestore.StagingStore
	Releases *filestore.ReleaseStore
	Sources  *source.Cache
}

// NewApp loads configuration, the package repository, and connects to
// the audit store, then wires the staging and release stores. Any
// failure here is a fatal startup error the caller cannot recover
// from, so NewApp panics rather than returning an error — the same
// convention the teacher's own NewApp follows for a bad config or
// registry.
func NewApp(ctx context.Context, outW io.Writer, cfg Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("logger configured")

	appCfg, err := appconfig.Load(ctx, cfg.ConfigPath, cfg.WorkingDir)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	logger.Debug("configuration loaded", "database", appCfg.Database)

	loader := pkgrepo.NewLoader(appCfg.AvailablePhases, appCfg.Compatibility)
	repo, err := loader.Load(ctx, cfg.RepoPath)
	if err != nil {
		panic(fmt.Errorf("failed to load package repository: %w", err))
	}
	logger.Debug("package repository loaded", "root", cfg.RepoPath)

	auditStore, err := audit.Open(ctx, appCfg.Database)
	if err != nil {
		panic(fmt.Errorf("failed to connect to audit store: %w", err))
	}
	logger.Debug("audit store connected")

	staging := filestore.NewStagingStore(appCfg.Staging)
	releases := filestore.NewReleaseStore(appCfg.ReleasesRoot, appCfg.ReleaseStores, auditStore)

	if err := os.MkdirAll(appCfg.SourceCache, 0o755); err != nil {
		panic(fmt.Errorf("failed to create source cache directory: %w", err))
	}
	sources := source.NewCache(appCfg.SourceCache)

	return &App{
		outW:     outW,
		logger:   logger,
		Config:   appCfg,
		Repo:     repo,
		Audit:    auditStore,
		Staging:  staging,
		Releases: releases,
		Sources:  sources,
	}
}

// Logger returns the app's configured structured logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Close releases the audit store's connection pool.
func (a *App) Close() error {
	return a.Audit.Close()
}
