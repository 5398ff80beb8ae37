// Package scheduler is the Job Scheduler core: one goroutine per job,
// generalized directly from the teacher's internal/dag/executor.go
// worker pool. The atomic depCount unlock protocol and the
// sync.Once-guarded skip cascade are the teacher's. A job failure does
// not cancel the submit: only the failed job's downstream jobs are
// skipped, and every other job keeps running. These are retargeted here from HCL
// step/resource nodes onto package build jobs, and from cty outputs
// onto artifact publication.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vk/forgegrid/internal/admission"
	"github.com/vk/forgegrid/internal/appconfig"
	"github.com/vk/forgegrid/internal/ctxlog"
	"github.com/vk/forgegrid/internal/dag"
	"github.com/vk/forgegrid/internal/endpoint"
	"github.com/vk/forgegrid/internal/job"
	"github.com/vk/forgegrid/internal/pkgmodel"
	"github.com/vk/forgegrid/internal/scriptgen"
)

// EndpointPool is the subset of *endpoint.Pool the scheduler drives.
// Defined here (not imported from internal/endpoint) so a fake can
// stand in during tests without a real container engine.
type EndpointPool interface {
	Reserve(ctx context.Context, image string) (*endpoint.Lease, error)
	Run(ctx context.Context, lease *endpoint.Lease, spec endpoint.ContainerSpec) (*endpoint.RunHandle, error)
}

// JobRecord carries everything beyond job.Job itself that the audit
// store needs for the one row it writes per job at terminal
// transition: the endpoint/image/script/env a successful run chose,
// and the container id/log lines it produced. Fields populated only as
// far as the job got before reaching its terminal state; a job skipped
// via the upstream-failure cascade never acquired a lease or compiled
// a script, so its JobRecord is the zero value aside from Image.
type JobRecord struct {
	EndpointName string
	Image        string
	Script       string
	Env          []string
	ContainerID  string
	LogLines     []string
}

// AuditSink records a submit's and a job's lifecycle into the audit
// store. RecordJob is called exactly once per job, when it reaches a
// terminal state (Succeeded or Failed, including upstream-skip and
// cancellation), per spec.md §4.6's append-only per-job row.
type AuditSink interface {
	RecordSubmitStarted(ctx context.Context, submitID uuid.UUID, image string, g *dag.Graph) error
	RecordJob(ctx context.Context, submitID uuid.UUID, j *job.Job, rec JobRecord) error
}

// ArtifactStore stages one produced artifact into the submit's staging
// area, returning its staged path.
type ArtifactStore interface {
	Stage(ctx context.Context, submitID uuid.UUID, name, localPath string) (string, error)
}

// Submit is one build run: a resolved graph, one Job per node, and the
// infrastructure (endpoint pool, audit sink, artifact store) needed to
// drive every job to a terminal state.
type Submit struct {
	ID     uuid.UUID
	Graph  *dag.Graph
	Image  string
	Config *appconfig.Config

	Pool  EndpointPool
	Audit AuditSink
	Store ArtifactStore

	// ExtraEnv is the submit-level environment passed via the CLI's
	// --env flags. It is merged into every job's container environment
	// on top of the package's own Env, and its names are subject to
	// the same allow-list check as package env (I5).
	ExtraEnv map[string]string

	jobs map[string]*job.Job
	wg   sync.WaitGroup
}

// NewSubmit creates one Job per node in g, in Pending state.
func NewSubmit(id uuid.UUID, g *dag.Graph, image string, cfg *appconfig.Config, pool EndpointPool, audit AuditSink, store ArtifactStore) *Submit {
	jobs := make(map[string]*job.Job, g.Len())
	for _, n := range g.Nodes() {
		jobs[n.ID] = job.New(uuid.NewString(), n.Name, n.Version)
	}
	return &Submit{
		ID:     id,
		Graph:  g,
		Image:  image,
		Config: cfg,
		Pool:   pool,
		Audit:  audit,
		Store:  store,
		jobs:   jobs,
	}
}

// Job returns the Job for a resolved (name, version) node id.
func (s *Submit) Job(nodeID string) (*job.Job, bool) {
	j, ok := s.jobs[nodeID]
	return j, ok
}

// Admit runs the submit's pre-flight checks (I4, I5) before any
// goroutine is spawned. A failure here never starts the worker pool.
func (s *Submit) Admit(ctx context.Context) error {
	nodes := s.Graph.Nodes()
	packages := make([]*pkgmodel.Package, 0, len(nodes))
	envNames := make(map[string]struct{})
	for _, n := range nodes {
		packages = append(packages, n.Package)
		for name := range n.Package.Env {
			envNames[name] = struct{}{}
		}
	}
	for name := range s.ExtraEnv {
		envNames[name] = struct{}{}
	}

	if err := admission.CheckImage(s.Config.Docker, s.Image, packages); err != nil {
		return err
	}

	names := make([]string, 0, len(envNames))
	for name := range envNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return admission.CheckEnvNames(s.Config.Containers, names)
}

// Run drives every job in the graph to a terminal state. If any job
// failed for a reason other than an upstream skip, it returns an error
// naming all such jobs and wrapping the first one's error in graph
// node order; a job cancelled through ctx counts as such a failure.
func (s *Submit) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	nodes := s.Graph.Nodes()

	if err := s.Audit.RecordSubmitStarted(ctx, s.ID, s.Image, s.Graph); err != nil {
		return err
	}

	depCount := make(map[string]*atomic.Int32, len(nodes))
	for _, n := range nodes {
		c := &atomic.Int32{}
		c.Store(int32(len(n.Deps)))
		depCount[n.ID] = c
	}

	readyChan := make(chan *dag.Node, len(nodes))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, n := range nodes {
		if depCount[n.ID].Load() == 0 {
			readyChan <- n
		}
	}

	s.wg.Add(len(nodes))
	numWorkers := len(nodes)
	if numWorkers == 0 {
		return nil
	}
	for i := 0; i < numWorkers; i++ {
		go s.worker(runCtx, readyChan, cancel, depCount, i)
	}

	s.wg.Wait()
	close(readyChan)

	var failed []string
	var rootCause error
	for _, n := range nodes {
		j := s.jobs[n.ID]
		if j.State() != job.Failed {
			continue
		}
		err := j.Err()
		logger.Error("scheduler: job failed", "job", n.ID, "error", err)
		var jerr *job.JobError
		if err != nil && (!errors.As(err, &jerr) || jerr.Kind != job.UpstreamFailed) {
			failed = append(failed, n.ID)
			if rootCause == nil {
				rootCause = err
			}
		}
	}

	if rootCause != nil {
		return fmt.Errorf("scheduler: submit failed for %s: %w", strings.Join(failed, ", "), rootCause)
	}
	return nil
}

func (s *Submit) worker(ctx context.Context, readyChan chan *dag.Node, cancel context.CancelFunc, depCount map[string]*atomic.Int32, workerID int) {
	logger := ctxlog.FromContext(ctx)
	for n := range readyChan {
		j := s.jobs[n.ID]
		workerLogger := logger.With("workerID", workerID, "job", n.ID)

		if ctx.Err() != nil {
			if j.Fail(&Cancelled{Err: ctx.Err()}) {
				s.recordTerminal(ctx, n, j, JobRecord{Image: s.Image})
				s.wg.Done()
				s.skipDependents(ctx, n)
			}
			continue
		}

		workerLogger.Debug("scheduler: picked up job")
		rec, err := s.runJob(ctx, workerLogger.WithGroup("job"), n, j)
		if err != nil {
			workerLogger.Error("scheduler: job failed", "error", err)
			j.Fail(err)
			s.recordTerminal(ctx, n, j, rec)
			s.skipDependents(ctx, n)
			s.wg.Done()
			continue
		}
		s.recordTerminal(ctx, n, j, rec)

		workerLogger.Debug("scheduler: job succeeded")
		for _, dependent := range s.Graph.DependentNodes(n) {
			if depCount[dependent.ID].Add(-1) == 0 {
				readyChan <- dependent
			}
		}
		s.wg.Done()
	}
}

// skipDependents recursively marks every downstream job Failed due to
// n's failure, matching the teacher's skipDependents cascade. A
// cascaded job never acquired a lease or ran a container, so its audit
// row carries only the requested image.
func (s *Submit) skipDependents(ctx context.Context, n *dag.Node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range s.Graph.DependentNodes(n) {
		dj := s.jobs[dependent.ID]
		if dj.SkipUpstreamFailed(n.ID) {
			logger.Warn("scheduler: skipping dependent job", "job", dependent.ID, "upstream", n.ID)
			s.recordTerminal(ctx, dependent, dj, JobRecord{Image: s.Image})
			s.wg.Done()
			s.skipDependents(ctx, dependent)
		}
	}
}

// recordTerminal writes j's one audit row now that it has reached a
// terminal state, logging (rather than propagating) a write failure so
// an audit outage cannot itself deadlock the submit.
func (s *Submit) recordTerminal(ctx context.Context, n *dag.Node, j *job.Job, rec JobRecord) {
	if err := s.Audit.RecordJob(ctx, s.ID, j, rec); err != nil {
		ctxlog.FromContext(ctx).Error("scheduler: failed to record job audit row", "job", n.ID, "error", err)
	}
}

// runJob carries one job from WaitingForInputs through to a terminal
// state: gather forwarded artifacts, reserve an endpoint, compile and
// lint the script, run the container, and interpret its marker stream.
// It returns the JobRecord accumulated so far alongside any error, so
// the caller can still write an audit row describing how far the job
// got even when it failed partway through.
func (s *Submit) runJob(ctx context.Context, logger *slog.Logger, n *dag.Node, j *job.Job) (JobRecord, error) {
	rec := JobRecord{Image: s.Image}
	logger.Debug("scheduler: running job", "package", n.Name, "version", n.Version)

	if err := j.Advance(job.WaitingForInputs); err != nil {
		return rec, err
	}
	for _, dep := range s.Graph.RuntimeDepNodes(n) {
		j.AddForwardedArtifacts(s.jobs[dep.ID])
	}

	if err := j.Advance(job.WaitingForSlot); err != nil {
		return rec, err
	}
	lease, err := s.reserveWithBackoff(ctx, logger)
	if err != nil {
		return rec, err
	}
	defer lease.Release()
	rec.EndpointName = lease.Endpoint.Name

	if err := j.Advance(job.Running); err != nil {
		return rec, err
	}

	runtimeRefs, buildRefs := s.dependencyRefs(n)
	script, err := scriptgen.Compile(n.Package, runtimeRefs, buildRefs, s.Config.AvailablePhases, s.Config.Shebang, s.Config.StrictScriptInterpolation)
	if err != nil {
		return rec, err
	}
	rec.Script = script
	if err := scriptgen.Lint(ctx, s.Config.ScriptLinter, script); err != nil {
		return rec, err
	}
	rec.Env = containerEnv(n.Package, s.Config.Containers, s.ExtraEnv)

	workDir, err := os.MkdirTemp("", "forgegrid-job-*")
	if err != nil {
		return rec, err
	}
	defer os.RemoveAll(workDir)

	inputsDir := filepath.Join(workDir, "inputs")
	outputsDir := filepath.Join(workDir, "outputs")
	scriptPath := filepath.Join(workDir, "script")
	if err := os.MkdirAll(inputsDir, 0o755); err != nil {
		return rec, err
	}
	if err := os.MkdirAll(outputsDir, 0o755); err != nil {
		return rec, err
	}
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return rec, err
	}
	if err := stageInputs(j, n.Package, inputsDir); err != nil {
		return rec, err
	}

	handle, err := s.Pool.Run(ctx, lease, endpoint.ContainerSpec{
		Image:      s.Image,
		InputsDir:  inputsDir,
		ScriptPath: scriptPath,
		OutputsDir: outputsDir,
		Env:        rec.Env,
	})
	if err != nil {
		return rec, err
	}
	rec.ContainerID = handle.ContainerID

	outcome := consumeMarkerStream(handle.Lines, j)
	rec.LogLines = outcome.logLines

	exitCode, waitErr := handle.Wait()
	if waitErr != nil {
		return rec, waitErr
	}

	if exitCode != 0 || outcome.sawErr {
		msg := outcome.errMessage
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", exitCode)
		}
		return rec, &job.JobError{Kind: job.ContainerExitNonZero, JobID: j.ID, Message: msg}
	}
	if !outcome.sawOK {
		return rec, &job.JobError{Kind: job.MissingTerminalState, JobID: j.ID}
	}

	artifacts, err := s.collectOutputArtifacts(ctx, n, outputsDir)
	if err != nil {
		return rec, err
	}
	j.Succeed(artifacts)
	return rec, nil
}

// reserveWithBackoff polls the pool until a slot frees up, matching
// the WaitingForSlot state's blocking semantics: EndpointError{Kind:
// NoCapacity} means "try again shortly", every other error is fatal
// to the job.
func (s *Submit) reserveWithBackoff(ctx context.Context, logger *slog.Logger) (*endpoint.Lease, error) {
	const backoff = 50 * time.Millisecond
	for {
		lease, err := s.Pool.Reserve(ctx, s.Image)
		if err == nil {
			return lease, nil
		}

		var eerr *endpoint.EndpointError
		if !errors.As(err, &eerr) || eerr.Kind != endpoint.NoCapacity {
			return nil, err
		}
		logger.Debug("scheduler: no endpoint capacity, retrying", "image", s.Image)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

type markerOutcome struct {
	sawOK      bool
	sawErr     bool
	errMessage string
	logLines   []string
}

// consumeMarkerStream drains a running container's line stream,
// updating j's phase/progress as markers arrive and tracking the last
// terminal-state marker seen, per spec.md §4.3 ("the last such line
// wins if multiple occur").
func consumeMarkerStream(lines <-chan string, j *job.Job) markerOutcome {
	var out markerOutcome
	for line := range lines {
		out.logLines = append(out.logLines, line)

		m, ok := scriptgen.ParseMarkerLine(line)
		if !ok {
			continue
		}
		switch m.Kind {
		case scriptgen.MarkerState:
			out.sawOK = m.StateOK
			out.sawErr = !m.StateOK
			out.errMessage = m.StateMessage
		case scriptgen.MarkerPhase:
			j.SetPhase(m.PhaseName)
		case scriptgen.MarkerProgress:
			j.SetProgress(m.Progress)
		}
	}
	return out
}

// dependencyRefs splits n's dependency edges into resolved
// (name, version) refs by kind, for the script compiler's
// this.dependencies.{runtime,build} context.
func (s *Submit) dependencyRefs(n *dag.Node) (runtime, build []scriptgen.DependencyRef) {
	nodes := s.Graph.Nodes()
	for _, e := range n.Deps {
		dep := nodes[e.Index]
		ref := scriptgen.DependencyRef{Name: dep.Name, Version: dep.Version}
		if e.Kind == dag.EdgeRuntime {
			runtime = append(runtime, ref)
		} else {
			build = append(build, ref)
		}
	}
	return runtime, build
}

// stageInputs copies a job's forwarded runtime artifacts into its
// /inputs directory before the container starts.
func stageInputs(j *job.Job, pkg *pkgmodel.Package, inputsDir string) error {
	for _, a := range j.ForwardedArtifacts() {
		if a.Path == "" {
			continue
		}
		if err := copyFile(a.Path, filepath.Join(inputsDir, a.Name)); err != nil {
			return err
		}
	}
	for _, src := range pkg.Sources {
		if src.CachePath == "" {
			continue
		}
		dest := filepath.Join(inputsDir, fmt.Sprintf("src-%s.source", src.Hash.Hex))
		if err := copyFile(src.CachePath, dest); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// collectOutputArtifacts applies the output acceptance filter
// ("<name>-<version>.*") and stages every match through s.Store.
func (s *Submit) collectOutputArtifacts(ctx context.Context, n *dag.Node, outputsDir string) ([]job.Artifact, error) {
	pattern := filepath.Join(outputsDir, fmt.Sprintf("%s-%s.*", n.Name, n.Version))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		jobID := n.ID
		if j, ok := s.jobs[n.ID]; ok {
			jobID = j.ID
		}
		return nil, &job.JobError{Kind: job.OutputMissing, JobID: jobID, Message: pattern}
	}

	artifacts := make([]job.Artifact, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		staged, err := s.Store.Stage(ctx, s.ID, name, m)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, job.Artifact{Name: name, Path: staged})
	}
	return artifacts, nil
}

// containerEnv renders a package's declared env plus the configured
// provenance variables into the container's environment lines.
func containerEnv(pkg *pkgmodel.Package, containers appconfig.ContainersConfig, extra map[string]string) []string {
	merged := make(map[string]string, len(pkg.Env)+len(extra))
	for name, value := range pkg.Env {
		merged[name] = value
	}
	for name, value := range extra {
		merged[name] = value
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	env := make([]string, 0, len(names)+2)
	for _, name := range names {
		env = append(env, fmt.Sprintf("%s=%s", name, merged[name]))
	}
	if containers.GitAuthor != "" {
		env = append(env, "FORGEGRID_GIT_AUTHOR="+containers.GitAuthor)
	}
	if containers.GitCommitHash != "" {
		env = append(env, "FORGEGRID_GIT_COMMIT_HASH="+containers.GitCommitHash)
	}
	return env
}
