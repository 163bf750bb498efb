// Package pipeline turns external inputs (a text prompt or a declared model)
// into subgraphs, feeds them to the swarm, ships them to compute nodes and
// reassembles the result once every fragment reached its terminal state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sanonone/wingbeat/pkg/core/subgraph"
	"github.com/sanonone/wingbeat/pkg/core/types"
	"github.com/sanonone/wingbeat/pkg/metrics"
	"github.com/sanonone/wingbeat/pkg/swarm"
	"github.com/sanonone/wingbeat/pkg/transport"
	"golang.org/x/sync/errgroup"
)

// RunState is the lifecycle state of a run.
type RunState string

const (
	StateSent        RunState = "sent"
	StateInWhirlwind RunState = "in_whirlwind"
	StateAssembling  RunState = "assembling"
	StateComplete    RunState = "complete"
	StateExpired     RunState = "expired"
)

// RunStatus is a snapshot of a run's progress.
type RunStatus struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	State      RunState  `json:"state"`
	Fragments  int       `json:"fragments"`
	Placed     int       `json:"placed"`
	Pending    int       `json:"pending"`
	Dispatched int       `json:"dispatched"`
	Failures   int       `json:"failures"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Deadline   time.Time `json:"deadline"`
}

type fragmentState struct {
	Fragment
	taskID string
	nodes  int

	// pending holds the subgraph while no tornado accepted it.
	pending    *subgraph.Subgraph
	dispatched bool
	inflight   bool
	failures   int
	lastErr    error
}

type run struct {
	id        string
	source    string
	input     string
	created   time.Time
	deadline  time.Time
	fragments []*fragmentState
	result    *Result
	expired   bool
}

// Processor drives runs through the swarm and the dispatcher.
// It is safe for concurrent use.
type Processor struct {
	mu sync.Mutex

	sw         *swarm.Swarm
	dispatcher transport.Dispatcher
	cfg        Config
	rng        *rand.Rand
	now        func() time.Time
	logger     *slog.Logger

	runs  map[string]*run
	order []string
}

// Option customizes a Processor.
type Option func(*Processor)

// WithClock replaces time.Now, for deadline handling.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor wires a processor to a swarm and a dispatcher. A nil
// dispatcher acknowledges fragments in process.
func NewProcessor(sw *swarm.Swarm, d transport.Dispatcher, cfg Config, opts ...Option) *Processor {
	if d == nil {
		d = transport.LocalDispatcher{}
	}
	p := &Processor{
		sw:         sw,
		dispatcher: d,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		now:        time.Now,
		logger:     slog.Default(),
		runs:       make(map[string]*run),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Swarm returns the swarm the processor feeds.
func (p *Processor) Swarm() *swarm.Swarm { return p.sw }

// SendPrompt fragments a prompt into word chunks and hands them to the swarm.
// It returns the run id used to collect the result.
func (p *Processor) SendPrompt(ctx context.Context, prompt string) (string, error) {
	return p.SendPromptWith(ctx, prompt, Words(p.cfg.PromptChunkSize))
}

// SendPromptWith is SendPrompt with an explicit fragmentation policy.
func (p *Processor) SendPromptWith(ctx context.Context, prompt string, ps PromptStrategy) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.New().String()

	p.mu.Lock()
	defer p.mu.Unlock()

	frags, err := DecomposePrompt(id, prompt, ps, p.strength)
	if err != nil {
		return "", fmt.Errorf("decompose prompt: %w", err)
	}
	if err := p.startRun(id, "prompt", prompt, frags); err != nil {
		return "", err
	}
	return id, nil
}

// SendModel decomposes a model applied to input and hands the fragments to the swarm.
func (p *Processor) SendModel(ctx context.Context, input string, m Model, s Strategy) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.New().String()

	p.mu.Lock()
	defer p.mu.Unlock()

	frags, err := Decompose(id, input, m, s, p.strength)
	if err != nil {
		return "", fmt.Errorf("decompose model: %w", err)
	}
	if err := p.startRun(id, "model:"+string(s.Kind), input, frags); err != nil {
		return "", err
	}
	return id, nil
}

// strength draws fragment strengths in [0.5, 1). Callers hold p.mu.
func (p *Processor) strength(int) float64 {
	return 0.5 + p.rng.Float64()*0.5
}

// startRun registers a run and distributes its fragments. Callers hold p.mu.
func (p *Processor) startRun(id, source, input string, frags []Fragment) error {
	if err := p.ensureTornadoes(); err != nil {
		return err
	}

	now := p.now()
	r := &run{
		id:        id,
		source:    source,
		input:     input,
		created:   now,
		deadline:  now.Add(p.cfg.PromptDeadline),
		fragments: make([]*fragmentState, len(frags)),
	}
	for i, f := range frags {
		r.fragments[i] = &fragmentState{
			Fragment: f,
			taskID:   uuid.New().String(),
			nodes:    f.Subgraph.Len(),
			pending:  f.Subgraph,
		}
	}
	p.runs[id] = r
	p.order = append(p.order, id)

	p.place([]*run{r})
	return nil
}

// ensureTornadoes spawns the default tornadoes on an empty swarm, at
// (i*10, i*5, 0). Callers hold p.mu.
func (p *Processor) ensureTornadoes() error {
	if p.sw.TornadoCount() > 0 {
		return nil
	}
	for i := 0; i < p.cfg.DefaultTornadoes; i++ {
		pos := types.NewVec3(float64(i)*10, float64(i)*5, 0)
		if _, err := p.sw.SpawnTornado(pos); err != nil {
			return fmt.Errorf("spawn default tornado: %w", err)
		}
	}
	return nil
}

// place distributes every pending fragment of runs. Rejected fragments stay
// pending for the next step. Callers hold p.mu.
func (p *Processor) place(runs []*run) {
	var states []*fragmentState
	var sgs []*subgraph.Subgraph
	for _, r := range runs {
		for _, fs := range r.fragments {
			if fs.pending != nil {
				states = append(states, fs)
				sgs = append(sgs, fs.pending)
			}
		}
	}
	if len(sgs) == 0 {
		return
	}

	report := p.sw.Distribute(sgs)
	for _, pl := range report.Placed {
		states[pl.Index].pending = nil
	}
	if len(report.Rejected) == 0 {
		return
	}

	// Round-robin hit a full tornado: offer the fragment to any tornado with room.
	waiting := 0
	for _, rej := range report.Rejected {
		if !errors.Is(rej.Err, swarm.ErrCapacityExceeded) || !p.sweepAnywhere(rej.Subgraph) {
			waiting++
			continue
		}
		states[rej.Index].pending = nil
	}
	if waiting > 0 {
		p.logger.Debug("[PIPELINE] Fragments waiting for capacity", "waiting", waiting)
	}
}

func (p *Processor) sweepAnywhere(sg *subgraph.Subgraph) bool {
	for _, t := range p.sw.Tornadoes() {
		if len(t.Held) >= t.Capacity {
			continue
		}
		if p.sw.Sweep(t.ID, sg) == nil {
			return true
		}
	}
	return false
}

type dispatchJob struct {
	fs    *fragmentState
	runID string
	// remaining is the time left before the run deadline.
	remaining time.Duration
	err       error
	elapsed   time.Duration
}

// ProcessStep advances the pipeline by one tick:
//  1. fragments rejected for capacity are distributed again,
//  2. un-dispatched fragments of live runs are shipped concurrently, each
//     call bounded by the dispatch timeout and by the run deadline,
//  3. the swarm steps.
//
// Runs past their deadline are marked expired and the subgraphs left with
// only finished work are removed from the swarm before placement.
// Dispatch failures are recorded on the fragment and retried on the next step.
func (p *Processor) ProcessStep(ctx context.Context, dt float64) error {
	// 1. Placement
	p.mu.Lock()
	now := p.now()
	var live []*run
	var jobs []*dispatchJob
	expired := 0
	for _, id := range p.order {
		r := p.runs[id]
		if r.result != nil || r.expired {
			continue
		}
		if !now.Before(r.deadline) {
			p.expireLocked(r)
			expired++
			continue
		}
		live = append(live, r)
	}
	if expired > 0 {
		p.releaseFinishedLocked()
	}
	p.place(live)
	for _, r := range live {
		for _, fs := range r.fragments {
			if !fs.dispatched && !fs.inflight {
				fs.inflight = true
				jobs = append(jobs, &dispatchJob{fs: fs, runID: r.id, remaining: r.deadline.Sub(now)})
			}
		}
	}
	p.mu.Unlock()

	// 2. Dispatch
	if len(jobs) > 0 {
		p.dispatch(ctx, jobs)
	}

	// 3. Swarm
	return p.sw.Step(ctx, dt)
}

func (p *Processor) dispatch(ctx context.Context, jobs []*dispatchJob) {
	g := new(errgroup.Group)
	if p.cfg.DispatchConcurrency > 0 {
		g.SetLimit(p.cfg.DispatchConcurrency)
	}
	for _, job := range jobs {
		f := transport.Fragment{
			TaskID:  job.fs.taskID,
			Payload: job.fs.Payload,
			RunID:   job.runID,
			Seq:     job.fs.Seq,
			Kind:    string(job.fs.Kind),
			Labels:  nodeLabels(job.fs.Subgraph),
		}
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, job.remaining)
			defer cancel()
			if p.cfg.DispatchTimeout > 0 {
				var cancelTimeout context.CancelFunc
				dctx, cancelTimeout = context.WithTimeout(dctx, p.cfg.DispatchTimeout)
				defer cancelTimeout()
			}
			start := time.Now()
			_, job.err = p.dispatcher.Dispatch(dctx, f)
			job.elapsed = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, job := range jobs {
		fs := job.fs
		fs.inflight = false
		metrics.DispatchDuration.Observe(job.elapsed.Seconds())
		if job.err != nil {
			fs.failures++
			fs.lastErr = job.err
			metrics.DispatchTotal.WithLabelValues("error").Inc()
			p.logger.Warn("[DISPATCH] Fragment dispatch failed, will retry",
				"run", job.runID, "seq", fs.Seq, "attempt", fs.failures, "error", job.err)
			continue
		}
		fs.dispatched = true
		metrics.DispatchTotal.WithLabelValues("ok").Inc()
	}
}

func nodeLabels(sg *subgraph.Subgraph) []string {
	labels := make([]string, len(sg.Nodes))
	for i, n := range sg.Nodes {
		labels[i] = n.Label
	}
	return labels
}

// CollectResults reassembles a run. It is all-or-nothing: it returns false
// unless every fragment was dispatched and every node of every fragment sits
// in a terminal subgraph, and always returns false once the run deadline has
// passed. A collected run keeps its result; the subgraphs made only of nodes
// of collected or expired runs are removed from the swarm.
func (p *Processor) CollectResults(id string) (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.runs[id]
	if !ok {
		return Result{}, false
	}
	if r.result != nil {
		return *r.result, true
	}
	if r.expired {
		return Result{}, false
	}
	if !p.now().Before(r.deadline) {
		p.expireLocked(r)
		p.releaseFinishedLocked()
		return Result{}, false
	}
	for _, fs := range r.fragments {
		if !fs.dispatched || fs.pending != nil {
			return Result{}, false
		}
	}

	// 1. Every node of the run must be terminal
	terminal := p.sw.CollectTerminal()
	done := make(map[types.NodeRef]struct{})
	for _, sg := range terminal {
		for _, n := range sg.Nodes {
			if n.Ref.Run == id {
				done[n.Ref] = struct{}{}
			}
		}
	}
	for _, fs := range r.fragments {
		for pos := 0; pos < fs.nodes; pos++ {
			if _, ok := done[types.NodeRef{Run: id, Seq: fs.Seq, Pos: pos}]; !ok {
				return Result{}, false
			}
		}
	}

	// 2. Assemble in decomposition order
	frags := make([]Fragment, len(r.fragments))
	for i, fs := range r.fragments {
		frags[i] = fs.Fragment
	}
	res := Assemble(id, frags)
	r.result = &res
	metrics.RunsCompleted.Inc()

	// 3. Remove subgraphs that only carry finished work
	p.releaseFinishedLocked()

	return res, true
}

// expireLocked marks a run past its deadline. Callers hold p.mu.
func (p *Processor) expireLocked(r *run) {
	if r.expired || r.result != nil {
		return
	}
	r.expired = true
	metrics.RunsExpired.Inc()
	p.logger.Warn("[PIPELINE] Run expired", "run", r.id, "deadline", r.deadline)
}

// releaseFinishedLocked removes every live subgraph whose nodes all belong to
// collected or expired runs. Callers hold p.mu.
func (p *Processor) releaseFinishedLocked() {
	var spent []string
	for _, sg := range p.sw.Live() {
		if p.finishedLocked(sg) {
			spent = append(spent, sg.ID)
		}
	}
	if n := p.sw.Remove(spent...); n > 0 {
		p.logger.Debug("[PIPELINE] Released finished subgraphs", "count", n)
	}
}

func (p *Processor) finishedLocked(sg *subgraph.Subgraph) bool {
	for _, n := range sg.Nodes {
		r, ok := p.runs[n.Ref.Run]
		if !ok || (r.result == nil && !r.expired) {
			return false
		}
	}
	return true
}

// Status reports the progress of a run.
func (p *Processor) Status(id string) (RunStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.runs[id]
	if !ok {
		return RunStatus{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return p.statusLocked(r), nil
}

// Runs lists every run in submission order.
func (p *Processor) Runs() []RunStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]RunStatus, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.statusLocked(p.runs[id]))
	}
	return out
}

func (p *Processor) statusLocked(r *run) RunStatus {
	st := RunStatus{
		ID:        r.id,
		Source:    r.source,
		Fragments: len(r.fragments),
		CreatedAt: r.created,
		Deadline:  r.deadline,
	}
	for _, fs := range r.fragments {
		if fs.pending == nil {
			st.Placed++
		} else {
			st.Pending++
		}
		if fs.dispatched {
			st.Dispatched++
		}
		st.Failures += fs.failures
		if fs.lastErr != nil {
			st.LastError = fs.lastErr.Error()
		}
	}

	switch {
	case r.result != nil:
		st.State = StateComplete
	case r.expired || !p.now().Before(r.deadline):
		st.State = StateExpired
	case st.Placed == 0:
		st.State = StateSent
	case st.Pending == 0 && st.Dispatched == st.Fragments:
		st.State = StateAssembling
	default:
		st.State = StateInWhirlwind
	}
	return st
}
