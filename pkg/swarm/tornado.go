package swarm

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"github.com/google/uuid"
	"github.com/sanonone/wingbeat/pkg/core/subgraph"
	"github.com/sanonone/wingbeat/pkg/core/types"
)

// Rules decide what a compatible pair of subgraphs does inside a tornado.
type Rules struct {
	CompatibilityThreshold float64
	MergeThreshold         float64
}

// Tornado is a mobile agent holding a bounded, ordered set of subgraphs.
// A Tornado is not safe for concurrent use; the Swarm serializes access.
type Tornado struct {
	ID              string
	Eye             types.Vec3
	Velocity        types.Vec3
	Radius          float64
	AngularVelocity float64
	Height          float64
	Capacity        int

	held []*subgraph.Subgraph
	rng  *rand.Rand
}

// TornadoOption customizes a tornado at spawn time.
type TornadoOption func(*Tornado)

// WithCapacity overrides the held-set capacity.
func WithCapacity(n int) TornadoOption {
	return func(t *Tornado) { t.Capacity = n }
}

// WithVelocity sets the initial velocity (used by the Drift policy).
func WithVelocity(v types.Vec3) TornadoOption {
	return func(t *Tornado) { t.Velocity = v }
}

// WithRadius overrides the sweep radius.
func WithRadius(r float64) TornadoOption {
	return func(t *Tornado) { t.Radius = r }
}

// NewTornado spawns a tornado at position with a fresh id, zero velocity and
// an empty held set. Its shape (radius, angular velocity, height) is drawn
// from a RNG seeded with seed.
func NewTornado(position types.Vec3, capacity int, seed int64, opts ...TornadoOption) *Tornado {
	rng := rand.New(rand.NewSource(seed))
	t := &Tornado{
		ID:              uuid.New().String(),
		Eye:             position,
		Radius:          5 + rng.Float64()*15,
		AngularVelocity: 0.5 + rng.Float64()*1.5,
		Height:          10 + rng.Float64()*40,
		Capacity:        capacity,
		rng:             rng,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Len returns the number of held subgraphs.
func (t *Tornado) Len() int { return len(t.held) }

// Full reports whether the held set reached capacity.
func (t *Tornado) Full() bool { return len(t.held) >= t.Capacity }

// Held returns the ids of held subgraphs in held order.
func (t *Tornado) Held() []string {
	ids := make([]string, len(t.held))
	for i, sg := range t.held {
		ids[i] = sg.ID
	}
	return ids
}

// SweepUp takes ownership of sg. It fails with ErrCapacityExceeded when the
// held set is full, leaving it unchanged.
func (t *Tornado) SweepUp(sg *subgraph.Subgraph) error {
	if t.Full() {
		return fmt.Errorf("%w: tornado %s holds %d/%d", ErrCapacityExceeded, t.ID, len(t.held), t.Capacity)
	}
	if t.index(sg.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyHeld, sg.ID)
	}
	if sg.Retired() {
		return fmt.Errorf("sweep %s: %w", sg.ID, subgraph.ErrRetired)
	}
	t.held = append(t.held, sg)
	return nil
}

// Release removes and returns the subgraph with the given id. Releasing an
// id that is not held is a no-op.
func (t *Tornado) Release(id string) (*subgraph.Subgraph, bool) {
	i := t.index(id)
	if i < 0 {
		return nil, false
	}
	sg := t.held[i]
	t.held = slices.Delete(t.held, i, i+1)
	return sg, true
}

// ReleaseAll empties the held set and returns its content in held order.
func (t *Tornado) ReleaseAll() []*subgraph.Subgraph {
	out := t.held
	t.held = nil
	return out
}

// Move advances the eye according to policy.
func (t *Tornado) Move(dt float64, policy MovementPolicy) {
	t.Eye = policy.Next(t, dt)
}

// Step moves the tornado, then lets its subgraphs interact.
func (t *Tornado) Step(dt float64, policy MovementPolicy, rules Rules) []Interaction {
	t.Move(dt, policy)
	return t.Interact(rules)
}

// InteractionKind is the outcome of a compatible pair.
type InteractionKind string

const (
	InteractionMerge   InteractionKind = "merge"
	InteractionConnect InteractionKind = "connect"
)

// Interaction records what a pair of subgraphs did during one tick.
type Interaction struct {
	Kind InteractionKind
	A, B string
	// Merged is set for merges.
	Merged *subgraph.Subgraph
	// New is false for connections that already existed.
	New bool
}

// Interact evaluates every unordered pair of the held set, as it was when the
// call started, exactly once. Retired or finalized members are skipped, and a
// subgraph produced by a merge does not interact again in the same tick.
// A compatible pair merges when both strengths are above the merge threshold,
// otherwise it connects. A merge replaces two held subgraphs with one, so it
// always frees a slot.
func (t *Tornado) Interact(rules Rules) []Interaction {
	snapshot := slices.Clone(t.held)
	var out []Interaction

	for i := 0; i < len(snapshot); i++ {
		for j := i + 1; j < len(snapshot); j++ {
			a, b := snapshot[i], snapshot[j]
			if a.Retired() || b.Retired() || a.Finalized() || b.Finalized() {
				continue
			}
			if !a.IsCompatible(b, rules.CompatibilityThreshold) {
				continue
			}

			if a.Strength > rules.MergeThreshold && b.Strength > rules.MergeThreshold {
				merged, err := t.mergeHeld(a, b, rules.CompatibilityThreshold)
				if err == nil {
					out = append(out, Interaction{Kind: InteractionMerge, A: a.ID, B: b.ID, Merged: merged, New: true})
					continue
				}
			}

			made, err := a.Link(b)
			if err != nil {
				continue
			}
			out = append(out, Interaction{Kind: InteractionConnect, A: a.ID, B: b.ID, New: made})
		}
	}
	return out
}

// mergeHeld merges two held subgraphs; the result takes the slot of a.
func (t *Tornado) mergeHeld(a, b *subgraph.Subgraph, threshold float64) (*subgraph.Subgraph, error) {
	ia, ib := t.index(a.ID), t.index(b.ID)
	if ia < 0 || ib < 0 {
		return nil, errors.New("merge operands not held")
	}
	merged, err := a.Merge(b, threshold)
	if err != nil {
		return nil, err
	}
	t.held[ia] = merged
	t.held = slices.Delete(t.held, ib, ib+1)
	return merged, nil
}

func (t *Tornado) index(id string) int {
	return slices.IndexFunc(t.held, func(sg *subgraph.Subgraph) bool { return sg.ID == id })
}

func (t *Tornado) get(id string) *subgraph.Subgraph {
	if i := t.index(id); i >= 0 {
		return t.held[i]
	}
	return nil
}
