// Package job holds the Job entity and its state machine: one Job per
// resolved (name, version) in a submit's plan. Grounded on the
// stub-era internal/node.Node (atomic state, sync.Once-guarded skip)
// but retargeted from step/resource execution state onto
// Pending → WaitingForInputs → WaitingForSlot → Running →
// Succeeded|Failed, and from Go call output onto artifact sets.
package job

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// State is a Job's position in its state machine.
type State int32

const (
	Pending State = iota
	WaitingForInputs
	WaitingForSlot
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case WaitingForInputs:
		return "waiting_for_inputs"
	case WaitingForSlot:
		return "waiting_for_slot"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one a Job never leaves.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// validNext lists the non-terminal transitions Advance permits.
// Terminal transitions (to Succeeded or Failed) go through Succeed,
// Fail, or SkipUpstreamFailed instead, since those also publish the
// job's result and close its completion channel.
var validNext = map[State][]State{
	Pending:          {WaitingForInputs},
	WaitingForInputs: {WaitingForSlot},
	WaitingForSlot:   {Running},
}

// Artifact is one artifact a Job produced or forwarded: the name under
// which it is uploaded into a downstream job's /inputs directory, and
// its resolved filesystem location once published.
type Artifact struct {
	Name string
	Path string
}

// Job is one scheduled unit of work: build one resolved package
// version inside a container on an endpoint.
type Job struct {
	ID             string
	PackageName    string
	PackageVersion string

	state        atomic.Int32
	terminalOnce sync.Once
	done         chan struct{}

	mu        sync.Mutex
	err       error
	artifacts []Artifact
	forwarded []Artifact
	phase     string
	progress  int
}

// New returns a Job in the Pending state.
func New(id, packageName, packageVersion string) *Job {
	return &Job{
		ID:             id,
		PackageName:    packageName,
		PackageVersion: packageVersion,
		done:           make(chan struct{}),
	}
}

// State atomically returns the job's current state.
func (j *Job) State() State {
	return State(j.state.Load())
}

// Advance moves the job to next, validating that the hop is legal for
// the job's current state. Terminal transitions are not legal here;
// use Succeed/Fail/SkipUpstreamFailed.
func (j *Job) Advance(next State) error {
	cur := j.State()
	for _, allowed := range validNext[cur] {
		if allowed == next {
			j.state.Store(int32(next))
			return nil
		}
	}
	return fmt.Errorf("job %s: illegal transition from %s to %s", j.ID, cur, next)
}

// Done returns a channel closed exactly once, when the job reaches a
// terminal state. Downstream jobs wait on their dependencies' Done
// channels before reading Artifacts/ForwardedArtifacts/Err.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// finish performs the one-time terminal transition: set state, error
// and produced artifacts, then close done. Subsequent calls (from a
// racing worker or a racing skip cascade) are no-ops; only the first
// caller's outcome sticks, matching the write-once completion channel
// design note.
func (j *Job) finish(s State, err error, artifacts []Artifact) (won bool) {
	j.terminalOnce.Do(func() {
		j.mu.Lock()
		j.err = err
		j.artifacts = artifacts
		j.mu.Unlock()
		j.state.Store(int32(s))
		close(j.done)
		won = true
	})
	return won
}

// Succeed marks the job Succeeded, publishing its produced artifacts.
func (j *Job) Succeed(artifacts []Artifact) bool {
	return j.finish(Succeeded, nil, artifacts)
}

// Fail marks the job Failed with err.
func (j *Job) Fail(err error) bool {
	return j.finish(Failed, err, nil)
}

// SkipUpstreamFailed marks the job Failed as a cascade from the
// failure of upstreamID, without ever running it.
func (j *Job) SkipUpstreamFailed(upstreamID string) bool {
	return j.finish(Failed, &JobError{Kind: UpstreamFailed, JobID: j.ID, UpstreamJobID: upstreamID}, nil)
}

// Err returns the job's terminal error, or nil if it succeeded or has
// not yet reached a terminal state.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Artifacts returns the job's own produced artifacts. Only meaningful
// after Done() has closed with State() == Succeeded.
func (j *Job) Artifacts() []Artifact {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Artifact, len(j.artifacts))
	copy(out, j.artifacts)
	return out
}

// AddForwardedArtifacts folds upstream's own artifacts plus whatever
// upstream had itself already forwarded into this job's forwarded
// set. Called once per runtime dependency before the job starts
// running, so a multi-hop runtime chain forwards through every hop
// without re-deriving the whole graph (spec.md §8 P6/S6).
func (j *Job) AddForwardedArtifacts(upstream *Job) {
	upstreamArtifacts := upstream.Artifacts()
	upstreamForwarded := upstream.ForwardedArtifacts()

	j.mu.Lock()
	defer j.mu.Unlock()
	j.forwarded = append(j.forwarded, upstreamArtifacts...)
	j.forwarded = append(j.forwarded, upstreamForwarded...)
}

// ForwardedArtifacts returns every artifact accumulated transitively
// from this job's runtime dependency closure.
func (j *Job) ForwardedArtifacts() []Artifact {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Artifact, len(j.forwarded))
	copy(out, j.forwarded)
	return out
}

// SetPhase records the most recently observed #BUTIDO:PHASE: marker.
func (j *Job) SetPhase(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phase = name
}

// Phase returns the most recently observed phase name.
func (j *Job) Phase() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.phase
}

// SetProgress records the most recently observed #BUTIDO:PROGRESS:
// marker, clamped to [0, 100].
func (j *Job) SetProgress(n int) {
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = n
}

// Progress returns the most recently observed progress value.
func (j *Job) Progress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}
