package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/google/uuid"

	"github.com/vk/forgegrid/internal/audit"
	"github.com/vk/forgegrid/internal/dag"
	"github.com/vk/forgegrid/internal/endpoint"
	"github.com/vk/forgegrid/internal/fsutil"
	"github.com/vk/forgegrid/internal/pkgmodel"
	"github.com/vk/forgegrid/internal/resolver"
	"github.com/vk/forgegrid/internal/scheduler"
	"github.com/vk/forgegrid/internal/source"
)

// BuildRequest carries the parsed arguments of the "build" subcommand.
type BuildRequest struct {
	Package    string
	Constraint string
	Image      string
	Env        map[string]string
}

// BuildResult reports the submit a Build created, for the caller to
// print and key follow-up "db" queries off of.
type BuildResult struct {
	SubmitID uuid.UUID
	Graph    *dag.Graph
}

// Build resolves req.Package's dependency graph, admits the submit
// against the image and env allow-lists, then runs every job to a
// terminal state. The endpoint pool it builds is scoped to this one
// submit and torn down when Build returns, matching the teacher's
// lazily-established, per-use client lifecycle (internal/endpoint.Pool
// itself owns the docker.Client handles; Build only owns the map of
// configured endpoints it draws from).
func (a *App) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	res, err := resolver.New(a.Repo).Resolve(ctx, req.Package, req.Constraint)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", req.Package, err)
	}

	submitID := uuid.New()
	pool := endpoint.NewPool(a.Config.Docker.Endpoints, submitID)
	submit := scheduler.NewSubmit(submitID, res, req.Image, a.Config, pool, a.Audit, a.Staging)
	submit.ExtraEnv = req.Env

	if err := submit.Admit(ctx); err != nil {
		return nil, fmt.Errorf("admission: %w", err)
	}
	if err := submit.Run(ctx); err != nil {
		return &BuildResult{SubmitID: submitID, Graph: res}, err
	}
	return &BuildResult{SubmitID: submitID, Graph: res}, nil
}

// TreeOf resolves packageName's dependency graph without running a
// submit, for the "tree-of" subcommand.
func (a *App) TreeOf(ctx context.Context, packageName, constraint string) (*dag.Graph, error) {
	g, err := resolver.New(a.Repo).Resolve(ctx, packageName, constraint)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", packageName, err)
	}
	return g, nil
}

// Release promotes a staged artifact into a named release store,
// aggregating failures across multiple artifacts (spec.md §7's
// late-fail policy for "release").
func (a *App) Release(ctx context.Context, submitID uuid.UUID, artifactNames []string, storeName string, overwrite bool) ([]string, error) {
	dests := make([]string, 0, len(artifactNames))
	var failures []string
	for _, name := range artifactNames {
		dest, err := a.Releases.Promote(ctx, submitID, a.Staging, name, storeName, overwrite)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		dests = append(dests, dest)
	}
	if len(failures) > 0 {
		return dests, fmt.Errorf("release: %s", strings.Join(failures, "; "))
	}
	return dests, nil
}

// ListSubmits, GetSubmit, GetJobLog and ListReleases are thin
// passthroughs to the audit store for the "db" subcommand family; App
// exists so the CLI layer never imports database/sql or internal/audit
// directly.

func (a *App) ListSubmits(ctx context.Context, filter audit.ListSubmitsFilter) ([]audit.SubmitSummary, error) {
	return a.Audit.ListSubmits(ctx, filter)
}

func (a *App) GetSubmit(ctx context.Context, id uuid.UUID) (*audit.SubmitDetail, error) {
	return a.Audit.GetSubmit(ctx, id)
}

func (a *App) GetJobLog(ctx context.Context, jobID uuid.UUID) (string, error) {
	return a.Audit.GetJobLog(ctx, jobID)
}

func (a *App) ListJobs(ctx context.Context, filter audit.ListJobsFilter) ([]audit.JobRow, error) {
	return a.Audit.ListJobs(ctx, filter)
}

func (a *App) ListReleases(ctx context.Context, filter audit.ListReleasesFilter) ([]audit.ReleaseSummary, error) {
	return a.Audit.ListReleases(ctx, filter)
}

// DbSetup runs the audit store's schema DDL, for "db setup".
func (a *App) DbSetup(ctx context.Context) error {
	return a.Audit.Setup(ctx)
}

// SourceOf reports, for every source a package declares, whether it is
// already cached and where.
func (a *App) SourceOf(pkg *pkgmodel.Package) []source.Entry {
	return a.Sources.Of(pkg)
}

// SourceDownload fetches every source pkg declares that is not already
// cached, for "source download".
func (a *App) SourceDownload(ctx context.Context, pkg *pkgmodel.Package, overwrite bool) error {
	client := &http.Client{Timeout: 2 * time.Minute}
	return a.Sources.Download(ctx, client, pkg, overwrite)
}

// SourceVerify checks every cached source against its declared hash,
// for "source verify".
func (a *App) SourceVerify(pkg *pkgmodel.Package) error {
	return a.Sources.Verify(pkg)
}

// endpointPool builds a Pool over every configured endpoint for
// administrative operations that are not tied to a particular submit.
func (a *App) endpointPool() *endpoint.Pool {
	return endpoint.NewPool(a.Config.Docker.Endpoints, uuid.New())
}

// ContainerTop reports the running processes inside a container, for
// "endpoint container <id> top".
func (a *App) ContainerTop(ctx context.Context, endpointName, containerID string) (docker.TopResult, error) {
	return a.endpointPool().Top(ctx, endpointName, containerID)
}

// ContainerStop stops a running container, for "endpoint container <id> stop".
func (a *App) ContainerStop(ctx context.Context, endpointName, containerID string) error {
	return a.endpointPool().Stop(ctx, endpointName, containerID)
}

// EndpointsPrune removes stopped containers from every configured
// endpoint, for "endpoint containers prune".
func (a *App) EndpointsPrune(ctx context.Context) error {
	pool := a.endpointPool()
	var failures []string
	for name := range a.Config.Docker.Endpoints {
		if err := pool.Prune(ctx, name); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("prune: %s", strings.Join(failures, "; "))
	}
	return nil
}

// EndpointImages lists the images allow-listed across every configured
// endpoint's docker config, for "endpoint images".
func (a *App) EndpointImages() []string {
	names := make([]string, 0, len(a.Config.Docker.Images))
	for _, img := range a.Config.Docker.Images {
		names = append(names, img.Name)
	}
	return names
}

// FindArtifact searches the staging and release stores for a file
// whose name matches pattern (a filepath.Match glob), for
// "find-artifact".
func (a *App) FindArtifact(pattern string) ([]string, error) {
	var matches []string
	for _, root := range append([]string{a.Config.Staging}, releaseRoots(a.Config.ReleasesRoot, a.Config.ReleaseStores)...) {
		found, err := fsutil.FindFilesByPattern(root, pattern)
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)
	}
	return matches, nil
}

func releaseRoots(releasesRoot string, stores []string) []string {
	roots := make([]string, 0, len(stores))
	for _, s := range stores {
		roots = append(roots, filepath.Join(releasesRoot, s))
	}
	return roots
}
