package scheduler_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/forgegrid/internal/appconfig"
	"github.com/vk/forgegrid/internal/ctxlog"
	"github.com/vk/forgegrid/internal/dag"
	"github.com/vk/forgegrid/internal/endpoint"
	"github.com/vk/forgegrid/internal/job"
	"github.com/vk/forgegrid/internal/pkgmodel"
	"github.com/vk/forgegrid/internal/scheduler"
)

// scenarioPool is a fake scheduler.EndpointPool that "runs" a job by
// reading the package identity off the compiled script's header
// comment and writing the expected output artifact, rather than
// talking to a container engine. It also tracks peak concurrent leases
// so capacity scenarios (S3) have something to assert against.
type scenarioPool struct {
	maxJobs int

	mu           sync.Mutex
	running      int
	maxObserved  int
	failPackages map[string]string // "name@version" -> STATE:ERR message
}

var packageHeaderRE = regexp.MustCompile(`(?m)^# package (\S+)@(\S+)$`)

func newScenarioPool(maxJobs int) *scenarioPool {
	return &scenarioPool{maxJobs: maxJobs, failPackages: map[string]string{}}
}

func (p *scenarioPool) Reserve(ctx context.Context, image string) (*endpoint.Lease, error) {
	p.mu.Lock()
	if p.maxJobs > 0 && p.running >= p.maxJobs {
		p.mu.Unlock()
		return nil, &endpoint.EndpointError{Kind: endpoint.NoCapacity, Image: image}
	}
	p.running++
	if p.running > p.maxObserved {
		p.maxObserved = p.running
	}
	p.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			p.mu.Lock()
			p.running--
			p.mu.Unlock()
		})
	}
	return endpoint.NewLease(&endpoint.Endpoint{Name: "fake-endpoint", MaxJobs: int32(p.maxJobs)}, release), nil
}

func (p *scenarioPool) Run(ctx context.Context, lease *endpoint.Lease, spec endpoint.ContainerSpec) (*endpoint.RunHandle, error) {
	script, err := os.ReadFile(spec.ScriptPath)
	if err != nil {
		return nil, err
	}
	m := packageHeaderRE.FindStringSubmatch(string(script))
	if m == nil {
		return nil, fmt.Errorf("scenarioPool: could not find package header in script")
	}
	name, version := m[1], m[2]
	key := name + "@" + version

	p.mu.Lock()
	errMsg, shouldFail := p.failPackages[key]
	p.mu.Unlock()

	if shouldFail {
		lines := []string{
			fmt.Sprintf("#BUTIDO:STATE:ERR:%q", errMsg),
		}
		return endpoint.NewCompletedRunHandle("fake-container", lines, 1, nil), nil
	}

	outputName := fmt.Sprintf("%s-%s.pkg", name, version)
	if err := os.WriteFile(filepath.Join(spec.OutputsDir, outputName), []byte("built"), 0o644); err != nil {
		return nil, err
	}
	lines := []string{"building " + key, "#BUTIDO:STATE:OK"}
	return endpoint.NewCompletedRunHandle("fake-container", lines, 0, nil), nil
}

type scenarioAudit struct {
	mu           sync.Mutex
	submits      int32
	started      int32
	finished     []string
}

func (a *scenarioAudit) RecordSubmitStarted(ctx context.Context, submitID uuid.UUID, image string, g *dag.Graph) error {
	atomic.AddInt32(&a.submits, 1)
	return nil
}

func (a *scenarioAudit) RecordJob(ctx context.Context, submitID uuid.UUID, j *job.Job, rec scheduler.JobRecord) error {
	atomic.AddInt32(&a.started, 1)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = append(a.finished, j.PackageName+"@"+j.PackageVersion)
	return nil
}

type scenarioStore struct {
	mu     sync.Mutex
	dir    string
	staged map[string]string
}

func newScenarioStore(t *testing.T) *scenarioStore {
	return &scenarioStore{dir: t.TempDir(), staged: map[string]string{}}
}

// Stage copies the artifact into the store's directory, as the real
// staging store does, so downstream jobs can copy it into their inputs.
func (s *scenarioStore) Stage(ctx context.Context, submitID uuid.UUID, name, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(s.dir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[name] = localPath
	return dest, nil
}

func testConfig(image string) *appconfig.Config {
	return &appconfig.Config{
		Shebang:         "#!/bin/sh",
		AvailablePhases: []string{"build"},
		Docker: appconfig.DockerConfig{
			Images: []appconfig.DockerImage{{Name: image}},
		},
	}
}

func buildScript(name, version string) pkgmodel.Phase {
	return pkgmodel.Phase{Name: "build", Script: "echo building " + name}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

// S1: a@1 -> b@1 -> c@1 chain, all runtime edges. Expect three jobs,
// built leaf-first, each downstream's staged inputs visible and every
// output staged.
func TestScenarioChainBuildsLeafFirstAndStagesEveryOutput(t *testing.T) {
	g := dag.New()
	c, err := g.AddNode("c", "1", &pkgmodel.Package{Name: "c", Version: "1", Phases: []pkgmodel.Phase{buildScript("c", "1")}})
	require.NoError(t, err)
	b, err := g.AddNode("b", "1", &pkgmodel.Package{Name: "b", Version: "1", Phases: []pkgmodel.Phase{buildScript("b", "1")}})
	require.NoError(t, err)
	a, err := g.AddNode("a", "1", &pkgmodel.Package{Name: "a", Version: "1", Phases: []pkgmodel.Phase{buildScript("a", "1")}})
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(c.ID, b.ID, dag.EdgeRuntime))
	require.NoError(t, g.AddEdge(b.ID, a.ID, dag.EdgeRuntime))

	pool := newScenarioPool(0)
	audit := &scenarioAudit{}
	store := newScenarioStore(t)
	s := scheduler.NewSubmit(uuid.New(), g, "debian:bullseye", testConfig("debian:bullseye"), pool, audit, store)

	require.NoError(t, s.Admit(testCtx(t)))
	require.NoError(t, s.Run(testCtx(t)))

	for _, id := range []string{"c@1", "b@1", "a@1"} {
		j, ok := s.Job(id)
		require.True(t, ok)
		assert.Equal(t, job.Succeeded, j.State())
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Contains(t, store.staged, "a-1.pkg")
	assert.Contains(t, store.staged, "b-1.pkg")
	assert.Contains(t, store.staged, "c-1.pkg")
}

// S2: b@1's script reports an error marker. b fails, a (which depends
// on b) is skipped as UpstreamFailed, c (independent upstream of b)
// still succeeds.
func TestScenarioUpstreamFailurePropagatesWithoutPoisoningSiblings(t *testing.T) {
	g := dag.New()
	c, err := g.AddNode("c", "1", &pkgmodel.Package{Name: "c", Version: "1", Phases: []pkgmodel.Phase{buildScript("c", "1")}})
	require.NoError(t, err)
	b, err := g.AddNode("b", "1", &pkgmodel.Package{Name: "b", Version: "1", Phases: []pkgmodel.Phase{buildScript("b", "1")}})
	require.NoError(t, err)
	a, err := g.AddNode("a", "1", &pkgmodel.Package{Name: "a", Version: "1", Phases: []pkgmodel.Phase{buildScript("a", "1")}})
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(c.ID, b.ID, dag.EdgeRuntime))
	require.NoError(t, g.AddEdge(b.ID, a.ID, dag.EdgeRuntime))

	pool := newScenarioPool(0)
	pool.failPackages["b@1"] = "boom"
	audit := &scenarioAudit{}
	store := newScenarioStore(t)
	s := scheduler.NewSubmit(uuid.New(), g, "debian:bullseye", testConfig("debian:bullseye"), pool, audit, store)

	require.NoError(t, s.Admit(testCtx(t)))
	err = s.Run(testCtx(t))
	require.Error(t, err)

	cJob, _ := s.Job("c@1")
	bJob, _ := s.Job("b@1")
	aJob, _ := s.Job("a@1")

	assert.Equal(t, job.Succeeded, cJob.State())
	assert.Equal(t, job.Failed, bJob.State())
	assert.Equal(t, job.Failed, aJob.State())

	var jerr *job.JobError
	require.ErrorAs(t, aJob.Err(), &jerr)
	assert.Equal(t, job.UpstreamFailed, jerr.Kind)
	assert.Equal(t, "b@1", jerr.UpstreamJobID)

	var bErr *job.JobError
	require.ErrorAs(t, bJob.Err(), &bErr)
	assert.Equal(t, job.ContainerExitNonZero, bErr.Kind)
}

// S3: one endpoint with maxjobs=1 and four independent packages.
// Exactly one job ever runs concurrently.
func TestScenarioSingleSlotEndpointSerializesIndependentJobs(t *testing.T) {
	g := dag.New()
	names := []string{"p1", "p2", "p3", "p4"}
	for _, name := range names {
		_, err := g.AddNode(name, "1", &pkgmodel.Package{Name: name, Version: "1", Phases: []pkgmodel.Phase{buildScript(name, "1")}})
		require.NoError(t, err)
	}

	pool := newScenarioPool(1)
	audit := &scenarioAudit{}
	store := newScenarioStore(t)
	s := scheduler.NewSubmit(uuid.New(), g, "debian:bullseye", testConfig("debian:bullseye"), pool, audit, store)

	require.NoError(t, s.Admit(testCtx(t)))
	require.NoError(t, s.Run(testCtx(t)))

	for _, name := range names {
		j, ok := s.Job(name + "@1")
		require.True(t, ok)
		assert.Equal(t, job.Succeeded, j.State())
	}
	assert.LessOrEqual(t, pool.maxObserved, 1)
}

// S5: env name outside the allow-list with check_env_names enabled
// fails pre-flight before any job runs.
func TestScenarioAdmissionRejectsDisallowedEnvBeforeAnyJobRuns(t *testing.T) {
	g := dag.New()
	_, err := g.AddNode("solo", "1", &pkgmodel.Package{
		Name: "solo", Version: "1",
		Env:    map[string]string{"PATH": "/x"},
		Phases: []pkgmodel.Phase{buildScript("solo", "1")},
	})
	require.NoError(t, err)

	cfg := testConfig("debian:bullseye")
	cfg.Containers = appconfig.ContainersConfig{CheckEnvNames: true, AllowedEnv: []string{"FOO"}}

	pool := newScenarioPool(0)
	audit := &scenarioAudit{}
	store := newScenarioStore(t)
	s := scheduler.NewSubmit(uuid.New(), g, "debian:bullseye", cfg, pool, audit, store)

	err = s.Admit(testCtx(t))
	require.Error(t, err)
	assert.Zero(t, audit.started)
}

// S6: diamond C->B->A and C->A. A is built exactly once; both B and C
// end up with A's artifact in their forwarded set, and C also forwards
// A's artifact transitively through B.
func TestScenarioDiamondForwardsArtifactThroughBothPaths(t *testing.T) {
	g := dag.New()
	a, err := g.AddNode("a", "1", &pkgmodel.Package{Name: "a", Version: "1", Phases: []pkgmodel.Phase{buildScript("a", "1")}})
	require.NoError(t, err)
	b, err := g.AddNode("b", "1", &pkgmodel.Package{Name: "b", Version: "1", Phases: []pkgmodel.Phase{buildScript("b", "1")}})
	require.NoError(t, err)
	c, err := g.AddNode("c", "1", &pkgmodel.Package{Name: "c", Version: "1", Phases: []pkgmodel.Phase{buildScript("c", "1")}})
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(a.ID, b.ID, dag.EdgeRuntime))
	require.NoError(t, g.AddEdge(a.ID, c.ID, dag.EdgeRuntime))
	require.NoError(t, g.AddEdge(b.ID, c.ID, dag.EdgeRuntime))

	pool := newScenarioPool(0)
	audit := &scenarioAudit{}
	store := newScenarioStore(t)
	s := scheduler.NewSubmit(uuid.New(), g, "debian:bullseye", testConfig("debian:bullseye"), pool, audit, store)

	require.NoError(t, s.Admit(testCtx(t)))
	require.NoError(t, s.Run(testCtx(t)))

	cJob, _ := s.Job("c@1")
	bJob, _ := s.Job("b@1")

	cNames := artifactNames(cJob.ForwardedArtifacts())
	assert.Contains(t, cNames, "a-1.pkg")
	assert.Contains(t, cNames, "b-1.pkg")

	bNames := artifactNames(bJob.ForwardedArtifacts())
	assert.Contains(t, bNames, "a-1.pkg")
	assert.NotContains(t, bNames, "b-1.pkg")

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.staged, 3)
}

func artifactNames(artifacts []job.Artifact) []string {
	out := make([]string, len(artifacts))
	for i, a := range artifacts {
		out[i] = a.Name
	}
	return out
}
