// Package endpoint implements the Endpoint Pool: one lazily-established
// container-engine session per configured endpoint, admission-checked
// leasing, and the run/top/stop/prune operations spec.md §4.4
// describes. Grounded on the teacher's modules/http_client asset
// lifecycle (lazily create a live client handle, keep it alive, tear
// it down once) applied to docker.Client sessions instead of
// *http.Client, and on the teacher's atomic-counter idiom
// (internal/node.Node's depCount) applied to endpoint capacity instead
// of dependency counts.
package endpoint

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/google/uuid"

	"github.com/vk/forgegrid/internal/appconfig"
	"github.com/vk/forgegrid/internal/scriptgen"
)

// Endpoint is one configured container-engine target.
type Endpoint struct {
	Name         string
	URI          string
	EndpointType string
	Timeout      time.Duration
	MaxJobs      int32

	running atomic.Int32

	mu            sync.Mutex
	client        *docker.Client
	failed        bool
	cooldownUntil time.Time
}

func (e *Endpoint) freeSlots() int32 {
	return e.MaxJobs - e.running.Load()
}

func (e *Endpoint) usable(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed {
		return false
	}
	if now.Before(e.cooldownUntil) {
		return false
	}
	return e.freeSlots() > 0
}

func (e *Endpoint) markFailed() {
	e.mu.Lock()
	e.failed = true
	e.mu.Unlock()
}

// dockerClient lazily establishes and pings the endpoint's session.
func (e *Endpoint) dockerClient(ctx context.Context) (*docker.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}

	client, err := docker.NewClient(e.URI)
	if err != nil {
		e.failed = true
		return nil, &EndpointError{Kind: Transport, Endpoint: e.Name, Err: err}
	}
	client.SetTimeout(e.Timeout)
	if err := client.PingWithContext(ctx); err != nil {
		e.failed = true
		return nil, &EndpointError{Kind: Transport, Endpoint: e.Name, Err: err}
	}
	e.client = client
	return client, nil
}

func (e *Endpoint) ensureImage(ctx context.Context, image string) error {
	client, err := e.dockerClient(ctx)
	if err != nil {
		return err
	}
	images, err := client.ListImages(docker.ListImagesOptions{})
	if err != nil {
		e.markFailed()
		return &EndpointError{Kind: Transport, Endpoint: e.Name, Err: err}
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == image {
				return nil
			}
		}
	}

	repo, tag := splitImageRef(image)
	if err := client.PullImage(docker.PullImageOptions{Repository: repo, Tag: tag, Context: ctx}, docker.AuthConfiguration{}); err != nil {
		return &EndpointError{Kind: ImageMissing, Endpoint: e.Name, Image: image, Err: err}
	}
	return nil
}

func splitImageRef(image string) (repo, tag string) {
	for i := len(image) - 1; i >= 0; i-- {
		if image[i] == ':' {
			return image[:i], image[i+1:]
		}
		if image[i] == '/' {
			break
		}
	}
	return image, "latest"
}

// Lease reserves one running-job slot on an Endpoint until Release is
// called.
type Lease struct {
	Endpoint *Endpoint
	release  func()
}

// Release frees the leased slot. Safe to call at most meaningfully
// once; later calls are no-ops.
func (l *Lease) Release() {
	if l.release != nil {
		l.release()
	}
}

// NewLease builds a Lease bound to a caller-supplied release func, for
// tests (e.g. internal/scheduler's fake EndpointPool) that need to
// hand the scheduler a lease without a real Pool.Reserve call.
func NewLease(ep *Endpoint, release func()) *Lease {
	return &Lease{Endpoint: ep, release: release}
}

// Pool holds the fleet of configured endpoints for one submit.
type Pool struct {
	endpoints []*Endpoint

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPool builds a Pool from the application config's docker.endpoints
// section, seeded once for the submit so the tie-break shuffle is
// deterministic within it and varies across submits.
func NewPool(cfg map[string]appconfig.DockerEndpoint, submitID uuid.UUID) *Pool {
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	endpoints := make([]*Endpoint, 0, len(names))
	for _, name := range names {
		ec := cfg[name]
		endpoints = append(endpoints, &Endpoint{
			Name:         name,
			URI:          ec.URI,
			EndpointType: ec.EndpointType,
			Timeout:      time.Duration(ec.Timeout) * time.Second,
			MaxJobs:      int32(ec.MaxJobs),
		})
	}

	return &Pool{endpoints: endpoints, rng: rand.New(rand.NewSource(seedFromSubmitID(submitID)))}
}

func seedFromSubmitID(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[8:]))
}

// selectEndpoint picks the usable endpoint with the most free slots,
// breaking ties with rng. It is pure aside from rng consumption, so
// the capacity/cooldown/tie-break policy is testable without a real
// container engine.
func selectEndpoint(endpoints []*Endpoint, now time.Time, rng *rand.Rand) *Endpoint {
	var candidates []*Endpoint
	for _, ep := range endpoints {
		if ep.usable(now) {
			candidates = append(candidates, ep)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].freeSlots() > candidates[j].freeSlots()
	})
	top := candidates[0].freeSlots()
	var tied []*Endpoint
	for _, c := range candidates {
		if c.freeSlots() == top {
			tied = append(tied, c)
		}
	}
	rng.Shuffle(len(tied), func(i, j int) { tied[i], tied[j] = tied[j], tied[i] })
	return tied[0]
}

// Reserve selects an endpoint with the image available, strictly fewer
// running jobs than maxjobs, and not in cooldown, per spec.md §4.4.
func (p *Pool) Reserve(ctx context.Context, image string) (*Lease, error) {
	chosen := p.reserveSlot()
	if chosen == nil {
		return nil, &EndpointError{Kind: NoCapacity, Image: image}
	}

	if err := chosen.ensureImage(ctx, image); err != nil {
		chosen.running.Add(-1)
		return nil, err
	}

	var once sync.Once
	return &Lease{
		Endpoint: chosen,
		release: func() {
			once.Do(func() { chosen.running.Add(-1) })
		},
	}, nil
}

// reserveSlot selects an endpoint and claims its slot in the same
// critical section, per spec.md §5's "endpoint running-count and
// per-endpoint lock: serialized critical section only around counter
// and lease set". Without this, two concurrent Reserve calls can both
// read the same endpoint's last free slot before either increments
// running, pushing it above MaxJobs. The pool's rng is also only ever
// touched here, since *rand.Rand is not safe for concurrent use.
func (p *Pool) reserveSlot() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	chosen := selectEndpoint(p.endpoints, time.Now(), p.rng)
	if chosen == nil {
		return nil
	}
	chosen.running.Add(1)
	return chosen
}

// ContainerSpec describes the container to run for one job.
type ContainerSpec struct {
	Image      string
	InputsDir  string
	ScriptPath string
	OutputsDir string
	Env        []string
}

// RunHandle is a started container: a live stream of its output lines
// plus, once Wait returns, its exit code.
type RunHandle struct {
	ContainerID string
	Lines       <-chan string

	done     chan struct{}
	exitCode int
	exitErr  error
}

// Wait blocks until the container has exited (equivalently, until
// Lines has closed) and returns its exit code.
func (h *RunHandle) Wait() (int, error) {
	<-h.done
	return h.exitCode, h.exitErr
}

// NewCompletedRunHandle builds a RunHandle already in its terminal
// state, for tests (e.g. internal/scheduler's fake EndpointPool) that
// need to hand a scheduler a finished container run without a real
// container engine.
func NewCompletedRunHandle(containerID string, lines []string, exitCode int, exitErr error) *RunHandle {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return &RunHandle{
		ContainerID: containerID,
		Lines:       ch,
		done:        closedChan(),
		exitCode:    exitCode,
		exitErr:     exitErr,
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Run starts a container on lease.Endpoint, bind-mounting spec's
// directories at /inputs, /script, /outputs, and returns a handle
// exposing a channel of merged stdout/stderr lines, ANSI-stripped,
// that closes when the container exits.
func (p *Pool) Run(ctx context.Context, lease *Lease, spec ContainerSpec) (*RunHandle, error) {
	ep := lease.Endpoint
	client, err := ep.dockerClient(ctx)
	if err != nil {
		return nil, err
	}

	container, err := client.CreateContainer(docker.CreateContainerOptions{
		Config: &docker.Config{
			Image: spec.Image,
			Cmd:   []string{"/script"},
			Env:   spec.Env,
		},
		HostConfig: &docker.HostConfig{
			Binds: []string{
				spec.InputsDir + ":/inputs",
				spec.ScriptPath + ":/script:ro",
				spec.OutputsDir + ":/outputs",
			},
		},
		Context: ctx,
	})
	if err != nil {
		ep.markFailed()
		return nil, &EndpointError{Kind: Transport, Endpoint: ep.Name, Err: err}
	}

	if err := client.StartContainerWithContext(container.ID, nil, ctx); err != nil {
		ep.markFailed()
		return nil, &EndpointError{Kind: Transport, Endpoint: ep.Name, Err: err}
	}

	lines := make(chan string, 64)
	handle := &RunHandle{ContainerID: container.ID, Lines: lines, done: make(chan struct{})}
	go streamLogs(ctx, client, container.ID, lines, handle)

	return handle, nil
}

func streamLogs(ctx context.Context, client *docker.Client, containerID string, lines chan<- string, handle *RunHandle) {
	defer close(lines)
	defer close(handle.done)

	pr, pw := io.Pipe()
	go func() {
		err := client.Logs(docker.LogsOptions{
			Context:      ctx,
			Container:    containerID,
			OutputStream: pw,
			ErrorStream:  pw,
			Stdout:       true,
			Stderr:       true,
			Follow:       true,
		})
		pw.CloseWithError(err)
	}()

	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		lines <- scriptgen.StripANSI(scanner.Text())
	}

	exitCode, err := client.WaitContainerWithContext(containerID, ctx)
	handle.exitCode = exitCode
	handle.exitErr = err
}

// Top lists the running processes of a container on the named
// endpoint, mirroring `docker top`.
func (p *Pool) Top(ctx context.Context, endpointName, containerID string) (docker.TopResult, error) {
	ep, err := p.endpointByName(endpointName)
	if err != nil {
		return docker.TopResult{}, err
	}
	client, err := ep.dockerClient(ctx)
	if err != nil {
		return docker.TopResult{}, err
	}
	result, err := client.TopContainer(containerID, "")
	if err != nil {
		return docker.TopResult{}, &EndpointError{Kind: Transport, Endpoint: ep.Name, Err: err}
	}
	return result, nil
}

// Stop stops a running container on the named endpoint.
func (p *Pool) Stop(ctx context.Context, endpointName, containerID string) error {
	ep, err := p.endpointByName(endpointName)
	if err != nil {
		return err
	}
	client, err := ep.dockerClient(ctx)
	if err != nil {
		return err
	}
	if err := client.StopContainerWithContext(containerID, 10, ctx); err != nil {
		return &EndpointError{Kind: Transport, Endpoint: ep.Name, Err: err}
	}
	return nil
}

// Prune removes stopped containers on the named endpoint. Images are
// not pruned.
func (p *Pool) Prune(ctx context.Context, endpointName string) error {
	ep, err := p.endpointByName(endpointName)
	if err != nil {
		return err
	}
	client, err := ep.dockerClient(ctx)
	if err != nil {
		return err
	}
	if _, err := client.PruneContainers(docker.PruneContainersOptions{Context: ctx}); err != nil {
		return &EndpointError{Kind: Transport, Endpoint: ep.Name, Err: err}
	}
	return nil
}

func (p *Pool) endpointByName(name string) (*Endpoint, error) {
	for _, ep := range p.endpoints {
		if ep.Name == name {
			return ep, nil
		}
	}
	return nil, fmt.Errorf("endpoint: unknown endpoint %q", name)
}
