// Package swarm implements the tornado swarm: mobile agents that sweep up
// subgraphs, drive their pairwise interaction every tick and release them.
//
// The Swarm is the only mutation path for live subgraphs. Every subgraph it
// owns sits either in exactly one tornado's held set or in the loose pool,
// and an id retired by split or merge never comes back. Subgraphs handed in
// are copied, subgraphs handed out are clones (or released for good), so no
// caller can race with the engine on a held subgraph.
//
// Basic usage:
//
//	sw := swarm.New(swarm.DefaultConfig())
//	id, _ := sw.SpawnTornado(types.NewVec3(0, 0, 0))
//	report := sw.Distribute(fragments)
//	for i := 0; i < 10; i++ {
//	    sw.Step(ctx, 0.1)
//	}
//	done := sw.CollectTerminal()
package swarm

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/sanonone/wingbeat/pkg/core/subgraph"
	"github.com/sanonone/wingbeat/pkg/core/types"
	"golang.org/x/sync/errgroup"
)

// Swarm owns the tornadoes and, through them, every live subgraph.
type Swarm struct {
	mu sync.RWMutex

	cfg       Config
	policy    MovementPolicy
	rng       *rand.Rand
	tornadoes []*Tornado
	byID      map[string]*Tornado
	reg       *registry
	step      uint64

	observers []Observer
}

// Option customizes a Swarm.
type Option func(*Swarm)

// WithObserver registers an observer for swarm events.
func WithObserver(o Observer) Option {
	return func(s *Swarm) { s.observers = append(s.observers, o) }
}

// WithMovement overrides the movement policy selected by the configuration.
func WithMovement(p MovementPolicy) Option {
	return func(s *Swarm) { s.policy = p }
}

// New creates an empty swarm. An unknown movement name falls back to the
// random walk; use PolicyFor to validate configuration up front.
func New(cfg Config, opts ...Option) *Swarm {
	policy, err := PolicyFor(cfg)
	if err != nil {
		policy = RandomWalk{Step: 1}
	}
	s := &Swarm{
		cfg:    cfg,
		policy: policy,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		byID:   make(map[string]*Tornado),
		reg:    newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the configuration the swarm runs with.
func (s *Swarm) Config() Config { return s.cfg }

// --- Tornadoes ---

// SpawnTornado adds a tornado at position and returns its id.
func (s *Swarm) SpawnTornado(position types.Vec3, opts ...TornadoOption) (string, error) {
	s.mu.Lock()
	t := NewTornado(position, s.cfg.DefaultCapacity, s.rng.Int63(), opts...)
	if _, dup := s.byID[t.ID]; dup {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateTornado, t.ID)
	}
	s.tornadoes = append(s.tornadoes, t)
	s.byID[t.ID] = t
	step := s.step
	s.mu.Unlock()

	s.notify(Event{Kind: EventSpawn, Step: step, TornadoID: t.ID, Position: position})
	return t.ID, nil
}

// TornadoInfo is a read-only view of a tornado.
type TornadoInfo struct {
	ID              string     `json:"id"`
	Eye             types.Vec3 `json:"eye"`
	Radius          float64    `json:"radius"`
	AngularVelocity float64    `json:"angular_velocity"`
	Height          float64    `json:"height"`
	Capacity        int        `json:"capacity"`
	Held            []string   `json:"held"`
}

// Tornadoes lists the tornadoes in spawn order.
func (s *Swarm) Tornadoes() []TornadoInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TornadoInfo, len(s.tornadoes))
	for i, t := range s.tornadoes {
		out[i] = TornadoInfo{
			ID:              t.ID,
			Eye:             t.Eye,
			Radius:          t.Radius,
			AngularVelocity: t.AngularVelocity,
			Height:          t.Height,
			Capacity:        t.Capacity,
			Held:            t.Held(),
		}
	}
	return out
}

// TornadoCount returns the number of tornadoes.
func (s *Swarm) TornadoCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tornadoes)
}

// --- Ownership ---

// Sweep moves sg into the held set of the given tornado. The swarm keeps its
// own copy: the caller's value is no longer connected to the engine.
func (s *Swarm) Sweep(tornadoID string, sg *subgraph.Subgraph) error {
	s.mu.Lock()
	t, ok := s.byID[tornadoID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTornado, tornadoID)
	}
	if err := s.admissible(sg); err != nil {
		s.mu.Unlock()
		return err
	}
	owned := sg.Clone()
	if err := t.SweepUp(owned); err != nil {
		step := s.step
		s.mu.Unlock()
		s.notify(Event{Kind: EventReject, Step: step, TornadoID: tornadoID, Subgraphs: []string{sg.ID}})
		return err
	}
	s.reg.own(sg.ID, tornadoID)
	step := s.step
	s.mu.Unlock()

	s.notify(Event{Kind: EventSweep, Step: step, TornadoID: tornadoID, Subgraphs: []string{sg.ID}})
	return nil
}

// Placement records a subgraph placed by Distribute.
type Placement struct {
	Index      int    `json:"index"`
	SubgraphID string `json:"subgraph_id"`
	TornadoID  string `json:"tornado_id"`
}

// Rejection records a subgraph Distribute could not place. Subgraph is the
// caller's value, still owned by the caller.
type Rejection struct {
	Index     int                `json:"index"`
	Subgraph  *subgraph.Subgraph `json:"-"`
	TornadoID string             `json:"tornado_id,omitempty"`
	Err       error              `json:"-"`
}

// DistributeReport lists which subgraphs were placed and which were rejected.
type DistributeReport struct {
	Placed   []Placement
	Rejected []Rejection
}

// Distribute assigns subgraphs round-robin, subgraph i going to tornado
// i mod n. A full tornado rejects its subgraph with ErrCapacityExceeded;
// the other subgraphs are still placed.
func (s *Swarm) Distribute(sgs []*subgraph.Subgraph) DistributeReport {
	var report DistributeReport
	var events []Event

	s.mu.Lock()
	n := len(s.tornadoes)
	for i, sg := range sgs {
		if n == 0 {
			report.Rejected = append(report.Rejected, Rejection{Index: i, Subgraph: sg, Err: ErrNoTornadoes})
			continue
		}
		t := s.tornadoes[i%n]
		if err := s.admissible(sg); err != nil {
			report.Rejected = append(report.Rejected, Rejection{Index: i, Subgraph: sg, TornadoID: t.ID, Err: err})
			continue
		}
		owned := sg.Clone()
		if err := t.SweepUp(owned); err != nil {
			report.Rejected = append(report.Rejected, Rejection{Index: i, Subgraph: sg, TornadoID: t.ID, Err: err})
			events = append(events, Event{Kind: EventReject, Step: s.step, TornadoID: t.ID, Subgraphs: []string{sg.ID}})
			continue
		}
		s.reg.own(sg.ID, t.ID)
		report.Placed = append(report.Placed, Placement{Index: i, SubgraphID: sg.ID, TornadoID: t.ID})
		events = append(events, Event{Kind: EventSweep, Step: s.step, TornadoID: t.ID, Subgraphs: []string{sg.ID}})
	}
	s.mu.Unlock()

	s.notify(events...)
	return report
}

// Drop leaves sg lying at position, outside any tornado. A tornado whose
// radius covers the position sweeps it up during a later step.
func (s *Swarm) Drop(sg *subgraph.Subgraph, position types.Vec3) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.admissible(sg); err != nil {
		return err
	}
	s.reg.drop(sg.Clone(), position)
	return nil
}

// Release removes a subgraph from the swarm and hands it to the caller.
// Releasing an unknown id is a no-op.
func (s *Swarm) Release(subgraphID string) (*subgraph.Subgraph, bool) {
	s.mu.Lock()
	sg, tornadoID := s.releaseLocked(subgraphID)
	step := s.step
	s.mu.Unlock()

	if sg == nil {
		return nil, false
	}
	s.notify(Event{Kind: EventRelease, Step: step, TornadoID: tornadoID, Subgraphs: []string{subgraphID}})
	return sg, true
}

// ReleaseAll empties a tornado and hands its subgraphs to the caller.
func (s *Swarm) ReleaseAll(tornadoID string) ([]*subgraph.Subgraph, error) {
	s.mu.Lock()
	t, ok := s.byID[tornadoID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTornado, tornadoID)
	}
	released := t.ReleaseAll()
	ids := make([]string, len(released))
	for i, sg := range released {
		s.reg.disown(sg.ID)
		ids[i] = sg.ID
	}
	step := s.step
	s.mu.Unlock()

	if len(ids) > 0 {
		s.notify(Event{Kind: EventRelease, Step: step, TornadoID: tornadoID, Subgraphs: ids})
	}
	return released, nil
}

// Remove discards subgraphs for good (final collection). Unknown ids are ignored.
func (s *Swarm) Remove(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if sg, _ := s.releaseLocked(id); sg != nil {
			removed++
		}
	}
	return removed
}

// Owner returns the id of the tornado holding subgraphID.
func (s *Swarm) Owner(subgraphID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.ownerOf(subgraphID)
}

// Lookup returns a clone of a live subgraph.
func (s *Swarm) Lookup(subgraphID string) (*subgraph.Subgraph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sg := s.lookupLocked(subgraphID)
	if sg == nil {
		return nil, false
	}
	return sg.Clone(), true
}

// IsRetired reports whether id was split or merged away.
func (s *Swarm) IsRetired(subgraphID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.isRetired(subgraphID)
}

// --- Structural operations ---

// Split splits a live subgraph into k children. The parent is retired and
// its neighbours unlinked. Children go back to the parent's tornado first,
// then to the following tornadoes in spawn order; children of a loose parent
// are dropped where the parent lay. A child no tornado has room for is
// reported as rejected and left loose at the eye of the parent's tornado,
// where a later step can sweep it up.
func (s *Swarm) Split(subgraphID string, k int) (DistributeReport, error) {
	var report DistributeReport
	var events []Event

	s.mu.Lock()
	parent := s.lookupLocked(subgraphID)
	if parent == nil {
		s.mu.Unlock()
		return report, fmt.Errorf("%w: %s", ErrUnknownSubgraph, subgraphID)
	}
	neighbours := parent.Connections()
	children, err := parent.Split(k, s.cfg.SplitDecay)
	if err != nil {
		s.mu.Unlock()
		return report, fmt.Errorf("split %s: %w", subgraphID, err)
	}

	// 1. Retire the parent
	tornadoID, held := s.reg.ownerOf(subgraphID)
	var at types.Vec3
	if held {
		s.byID[tornadoID].Release(subgraphID)
	} else if item, ok := s.reg.pickUp(subgraphID); ok {
		at = item.At
	}
	s.reg.retire(subgraphID)
	for _, id := range neighbours {
		if n := s.lookupLocked(id); n != nil {
			n.Unlink(subgraphID)
		}
	}

	// 2. Place children
	childIDs := make([]string, len(children))
	for i, child := range children {
		childIDs[i] = child.ID
		if !held {
			s.reg.drop(child, at)
			continue
		}
		target := s.placeFrom(tornadoID, child)
		if target == "" {
			s.reg.drop(child, s.byID[tornadoID].Eye)
			report.Rejected = append(report.Rejected, Rejection{Index: i, Subgraph: child, TornadoID: tornadoID, Err: ErrCapacityExceeded})
			events = append(events, Event{Kind: EventReject, Step: s.step, TornadoID: tornadoID, Subgraphs: []string{child.ID}})
			continue
		}
		report.Placed = append(report.Placed, Placement{Index: i, SubgraphID: child.ID, TornadoID: target})
		events = append(events, Event{Kind: EventSweep, Step: s.step, TornadoID: target, Subgraphs: []string{child.ID}})
	}
	events = append([]Event{{Kind: EventSplit, Step: s.step, TornadoID: tornadoID, Subgraphs: []string{subgraphID}, Results: childIDs}}, events...)
	s.mu.Unlock()

	s.notify(events...)
	return report, nil
}

// Merge merges two subgraphs held by the same tornado and returns the id of
// the result. Neighbours of the operands are re-pointed to the result.
func (s *Swarm) Merge(aID, bID string) (string, error) {
	s.mu.Lock()
	ta, okA := s.reg.ownerOf(aID)
	tb, okB := s.reg.ownerOf(bID)
	if !okA || !okB {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s / %s", ErrUnknownSubgraph, aID, bID)
	}
	if ta != tb {
		s.mu.Unlock()
		return "", ErrNotColocated
	}
	t := s.byID[ta]
	merged, err := t.mergeHeld(t.get(aID), t.get(bID), s.cfg.CompatibilityThreshold)
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("merge %s and %s: %w", aID, bID, err)
	}
	s.adoptMerge(ta, aID, bID, merged)
	ev := Event{Kind: EventMerge, Step: s.step, TornadoID: ta, Subgraphs: []string{aID, bID}, Results: []string{merged.ID}}
	s.mu.Unlock()

	s.notify(ev)
	return merged.ID, nil
}

// Connect records a symmetric link between two live subgraphs, wherever they are held.
func (s *Swarm) Connect(aID, bID string) error {
	s.mu.Lock()
	a, b := s.lookupLocked(aID), s.lookupLocked(bID)
	if a == nil || b == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s / %s", ErrUnknownSubgraph, aID, bID)
	}
	made, err := a.Link(b)
	tornadoID, _ := s.reg.ownerOf(aID)
	step := s.step
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("connect %s and %s: %w", aID, bID, err)
	}
	if made {
		s.notify(Event{Kind: EventConnect, Step: step, TornadoID: tornadoID, Subgraphs: []string{aID, bID}})
	}
	return nil
}

// Finalize marks a live subgraph as terminal.
func (s *Swarm) Finalize(subgraphID string) error {
	s.mu.Lock()
	sg := s.lookupLocked(subgraphID)
	if sg == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSubgraph, subgraphID)
	}
	sg.Finalize()
	step := s.step
	s.mu.Unlock()

	s.notify(Event{Kind: EventFinalize, Step: step, Subgraphs: []string{subgraphID}})
	return nil
}

// --- Simulation ---

// Step advances the whole swarm by one tick of dt seconds:
//  1. every tornado moves (concurrently when ParallelMovement is set; held
//     sets are disjoint so movement never touches shared state),
//  2. loose subgraphs are swept by the nearest tornado covering them,
//  3. each tornado lets its subgraphs interact, one tornado after the other,
//  4. held subgraphs age and may become terminal.
func (s *Swarm) Step(ctx context.Context, dt float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.step++
	var events []Event

	// 1. Movement
	if s.cfg.ParallelMovement && len(s.tornadoes) > 1 {
		g, _ := errgroup.WithContext(ctx)
		for _, t := range s.tornadoes {
			g.Go(func() error {
				t.Move(dt, s.policy)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, t := range s.tornadoes {
			t.Move(dt, s.policy)
		}
	}

	// 2. Sweep eligibility
	for _, item := range s.reg.looseItems() {
		t := s.nearestCovering(item.At)
		if t == nil {
			continue
		}
		if err := t.SweepUp(item.Subgraph); err != nil {
			continue
		}
		s.reg.pickUp(item.SubgraphID)
		s.reg.own(item.SubgraphID, t.ID)
		events = append(events, Event{Kind: EventSweep, Step: s.step, TornadoID: t.ID, Subgraphs: []string{item.SubgraphID}, Position: item.At})
	}

	// 3. Interaction
	rules := s.cfg.Rules()
	for _, t := range s.tornadoes {
		for _, in := range t.Interact(rules) {
			switch in.Kind {
			case InteractionMerge:
				s.adoptMerge(t.ID, in.A, in.B, in.Merged)
				events = append(events, Event{Kind: EventMerge, Step: s.step, TornadoID: t.ID, Subgraphs: []string{in.A, in.B}, Results: []string{in.Merged.ID}})
			case InteractionConnect:
				if in.New {
					events = append(events, Event{Kind: EventConnect, Step: s.step, TornadoID: t.ID, Subgraphs: []string{in.A, in.B}})
				}
			}
		}
	}

	// 4. Ageing and terminal state
	live := s.reg.loose.Len()
	for _, t := range s.tornadoes {
		for _, sg := range t.held {
			live++
			sg.Tick()
			if !sg.Finalized() && s.terminal(sg) {
				sg.Finalize()
				events = append(events, Event{Kind: EventFinalize, Step: s.step, TornadoID: t.ID, Subgraphs: []string{sg.ID}})
			}
		}
	}
	events = append(events, Event{Kind: EventStep, Step: s.step, Tornadoes: len(s.tornadoes), Live: live})
	s.mu.Unlock()

	s.notify(events...)
	return nil
}

// CollectTerminal returns clones of every terminal subgraph, in tornado spawn
// order then held order, followed by terminal loose subgraphs in id order.
// Nothing is removed from the swarm.
func (s *Swarm) CollectTerminal() []*subgraph.Subgraph {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*subgraph.Subgraph
	for _, t := range s.tornadoes {
		for _, sg := range t.held {
			if sg.Finalized() {
				out = append(out, sg.Clone())
			}
		}
	}
	for _, item := range s.reg.looseItems() {
		if item.Subgraph.Finalized() {
			out = append(out, item.Subgraph.Clone())
		}
	}
	return out
}

// Live returns clones of every live subgraph, held ones in tornado spawn
// order then loose ones in id order.
func (s *Swarm) Live() []*subgraph.Subgraph {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*subgraph.Subgraph
	for _, t := range s.tornadoes {
		for _, sg := range t.held {
			out = append(out, sg.Clone())
		}
	}
	for _, item := range s.reg.looseItems() {
		out = append(out, item.Subgraph.Clone())
	}
	return out
}

// Stats summarizes the swarm.
type Stats struct {
	Step      uint64 `json:"step"`
	Tornadoes int    `json:"tornadoes"`
	Held      int    `json:"held"`
	Loose     int    `json:"loose"`
	Terminal  int    `json:"terminal"`
	Retired   int    `json:"retired"`
}

// Stats returns counters describing the swarm.
func (s *Swarm) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Step:      s.step,
		Tornadoes: len(s.tornadoes),
		Loose:     s.reg.loose.Len(),
		Retired:   len(s.reg.retired),
	}
	for _, t := range s.tornadoes {
		st.Held += t.Len()
		for _, sg := range t.held {
			if sg.Finalized() {
				st.Terminal++
			}
		}
	}
	return st
}

// --- internals (callers hold s.mu) ---

func (s *Swarm) admissible(sg *subgraph.Subgraph) error {
	if sg.Retired() || s.reg.isRetired(sg.ID) {
		return fmt.Errorf("%s: %w", sg.ID, subgraph.ErrRetired)
	}
	if s.reg.known(sg.ID) {
		return fmt.Errorf("%w: %s", ErrAlreadyHeld, sg.ID)
	}
	return nil
}

func (s *Swarm) lookupLocked(id string) *subgraph.Subgraph {
	if tornadoID, ok := s.reg.ownerOf(id); ok {
		return s.byID[tornadoID].get(id)
	}
	if item, ok := s.reg.looseGet(id); ok {
		return item.Subgraph
	}
	return nil
}

func (s *Swarm) releaseLocked(id string) (*subgraph.Subgraph, string) {
	if tornadoID, ok := s.reg.ownerOf(id); ok {
		sg, _ := s.byID[tornadoID].Release(id)
		s.reg.disown(id)
		return sg, tornadoID
	}
	if item, ok := s.reg.pickUp(id); ok {
		return item.Subgraph, ""
	}
	return nil, ""
}

// adoptMerge updates the registry after a merge inside tornadoID and
// re-points the operands' neighbours to the merged subgraph.
func (s *Swarm) adoptMerge(tornadoID, aID, bID string, merged *subgraph.Subgraph) {
	s.reg.retire(aID, bID)
	s.reg.own(merged.ID, tornadoID)
	for _, id := range merged.Connections() {
		if n := s.lookupLocked(id); n != nil {
			n.ReplaceLink(aID, merged.ID)
			n.ReplaceLink(bID, merged.ID)
		}
	}
}

// placeFrom sweeps sg into the first tornado with room, starting at
// tornadoID and continuing in spawn order. It returns "" if all are full.
func (s *Swarm) placeFrom(tornadoID string, sg *subgraph.Subgraph) string {
	start := 0
	for i, t := range s.tornadoes {
		if t.ID == tornadoID {
			start = i
			break
		}
	}
	for i := range s.tornadoes {
		t := s.tornadoes[(start+i)%len(s.tornadoes)]
		if t.SweepUp(sg) == nil {
			s.reg.own(sg.ID, t.ID)
			return t.ID
		}
	}
	return ""
}

// nearestCovering returns the closest tornado with spare capacity whose
// radius covers at. Ties go to the earliest spawned.
func (s *Swarm) nearestCovering(at types.Vec3) *Tornado {
	var best *Tornado
	bestDist := 0.0
	for _, t := range s.tornadoes {
		if t.Full() {
			continue
		}
		d := types.Distance(t.Eye, at)
		if d > t.Radius {
			continue
		}
		if best == nil || d < bestDist {
			best, bestDist = t, d
		}
	}
	return best
}

func (s *Swarm) terminal(sg *subgraph.Subgraph) bool {
	if s.cfg.FinalizeAfter > 0 && sg.Age() >= s.cfg.FinalizeAfter {
		return true
	}
	return s.cfg.ExpectedConnections > 0 && len(sg.Connections()) >= s.cfg.ExpectedConnections
}

func (s *Swarm) notify(events ...Event) {
	for _, e := range events {
		for _, o := range s.observers {
			o.OnEvent(e)
		}
	}
}
