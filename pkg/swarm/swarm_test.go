package swarm

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sanonone/wingbeat/pkg/core/subgraph"
	"github.com/sanonone/wingbeat/pkg/core/types"
	"go.uber.org/goleak"
)

func anchoredConfig() Config {
	cfg := DefaultConfig()
	cfg.Movement = MovementAnchored
	return cfg
}

func mustSpawn(t *testing.T, sw *Swarm, pos types.Vec3, opts ...TornadoOption) string {
	t.Helper()
	id, err := sw.SpawnTornado(pos, opts...)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	return id
}

func TestSwarmMergeScenario(t *testing.T) {
	sw := New(anchoredConfig())
	tid := mustSpawn(t, sw, types.NewVec3(0, 0, 0), WithCapacity(2))

	a, b := chain(3, 0.9), chain(4, 0.95)
	if err := sw.Sweep(tid, a); err != nil {
		t.Fatal(err)
	}
	if err := sw.Sweep(tid, b); err != nil {
		t.Fatal(err)
	}

	if err := sw.Step(context.Background(), 0.1); err != nil {
		t.Fatal(err)
	}

	held := sw.Tornadoes()[0].Held
	if len(held) != 1 {
		t.Fatalf("expected exactly one held subgraph, got %v", held)
	}
	merged, ok := sw.Lookup(held[0])
	if !ok {
		t.Fatal("merged subgraph not found")
	}
	if math.Abs(merged.Strength-0.925) > 1e-9 {
		t.Errorf("strength = %v, want 0.925", merged.Strength)
	}
	if merged.Len() != a.Len()+b.Len() {
		t.Errorf("node count = %d, want %d", merged.Len(), a.Len()+b.Len())
	}
	if diff := cmp.Diff([]string{a.ID, b.ID}, merged.Parents); diff != "" {
		t.Errorf("parents mismatch (-want +got):\n%s", diff)
	}
}

func TestSwarmDistributeReport(t *testing.T) {
	sw := New(anchoredConfig())
	t1 := mustSpawn(t, sw, types.NewVec3(0, 0, 0), WithCapacity(2))
	t2 := mustSpawn(t, sw, types.NewVec3(10, 0, 0), WithCapacity(2))

	sgs := make([]*subgraph.Subgraph, 5)
	for i := range sgs {
		sgs[i] = chain(1, 0.1*float64(i+1))
	}

	report := sw.Distribute(sgs)

	if len(report.Placed) != 4 || len(report.Rejected) != 1 {
		t.Fatalf("placed %d rejected %d, want 4 and 1", len(report.Placed), len(report.Rejected))
	}
	wantTargets := []string{t1, t2, t1, t2}
	for i, p := range report.Placed {
		if p.Index != i || p.TornadoID != wantTargets[i] {
			t.Errorf("placement %d = %+v, want tornado %s", i, p, wantTargets[i])
		}
	}
	rej := report.Rejected[0]
	if rej.Index != 4 || rej.Subgraph != sgs[4] {
		t.Errorf("unexpected rejection %+v", rej)
	}
	if !errors.Is(rej.Err, ErrCapacityExceeded) {
		t.Errorf("rejection error = %v, want ErrCapacityExceeded", rej.Err)
	}
}

func TestSwarmDistributeWithoutTornadoes(t *testing.T) {
	sw := New(anchoredConfig())
	report := sw.Distribute([]*subgraph.Subgraph{chain(1, 0.5), chain(1, 0.5)})

	if len(report.Placed) != 0 || len(report.Rejected) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, r := range report.Rejected {
		if !errors.Is(r.Err, ErrNoTornadoes) {
			t.Errorf("expected ErrNoTornadoes, got %v", r.Err)
		}
	}
}

func TestSwarmSweepFullTornadoLeavesHeldSetUnchanged(t *testing.T) {
	sw := New(anchoredConfig())
	tid := mustSpawn(t, sw, types.NewVec3(0, 0, 0), WithCapacity(1))
	if err := sw.Sweep(tid, chain(1, 0.2)); err != nil {
		t.Fatal(err)
	}
	before := sw.Tornadoes()[0].Held

	extra := chain(1, 0.3)
	if err := sw.Sweep(tid, extra); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if diff := cmp.Diff(before, sw.Tornadoes()[0].Held); diff != "" {
		t.Errorf("held set changed (-before +after):\n%s", diff)
	}
	if _, owned := sw.Owner(extra.ID); owned {
		t.Error("rejected subgraph should not be owned")
	}
}

func TestSwarmSweepRejectsUnknownTornadoAndDuplicates(t *testing.T) {
	sw := New(anchoredConfig())
	t1 := mustSpawn(t, sw, types.NewVec3(0, 0, 0))
	t2 := mustSpawn(t, sw, types.NewVec3(1, 0, 0))

	sg := chain(1, 0.5)
	if err := sw.Sweep("nope", sg); !errors.Is(err, ErrUnknownTornado) {
		t.Errorf("expected ErrUnknownTornado, got %v", err)
	}
	if err := sw.Sweep(t1, sg); err != nil {
		t.Fatal(err)
	}
	if err := sw.Sweep(t2, sg); !errors.Is(err, ErrAlreadyHeld) {
		t.Errorf("a subgraph must not be held by two tornadoes, got %v", err)
	}
}

func TestSwarmReleaseMovesOwnershipOut(t *testing.T) {
	sw := New(anchoredConfig())
	tid := mustSpawn(t, sw, types.NewVec3(0, 0, 0))
	sg := chain(2, 0.5)
	_ = sw.Sweep(tid, sg)

	got, ok := sw.Release(sg.ID)
	if !ok || got.ID != sg.ID {
		t.Fatalf("release failed: %v %v", got, ok)
	}
	if _, ok := sw.Owner(sg.ID); ok {
		t.Error("released subgraph still owned")
	}
	if _, ok := sw.Release(sg.ID); ok {
		t.Error("second release should be a no-op")
	}

	// Released subgraphs can be swept again.
	if err := sw.Sweep(tid, got); err != nil {
		t.Errorf("re-sweep after release: %v", err)
	}
}

func TestSwarmRetiredIDsNeverReappear(t *testing.T) {
	sw := New(anchoredConfig())
	tid := mustSpawn(t, sw, types.NewVec3(0, 0, 0), WithCapacity(4))

	a, b := chain(2, 0.9), chain(2, 0.95)
	parent := chain(4, 0.1)
	for _, sg := range []*subgraph.Subgraph{a, b, parent} {
		if err := sw.Sweep(tid, sg); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := sw.Split(parent.ID, 2); err != nil {
		t.Fatal(err)
	}
	retired := []string{a.ID, b.ID, parent.ID}

	for i := 0; i < 5; i++ {
		if err := sw.Step(context.Background(), 0.1); err != nil {
			t.Fatal(err)
		}
		for _, info := range sw.Tornadoes() {
			for _, id := range info.Held {
				for _, r := range retired {
					if id == r {
						t.Fatalf("step %d: retired id %s is held again", i, r)
					}
				}
			}
		}
	}

	for _, sg := range []*subgraph.Subgraph{a, b, parent} {
		if !sw.IsRetired(sg.ID) {
			t.Errorf("%s should be retired", sg.ID)
		}
		if err := sw.Sweep(tid, sg); !errors.Is(err, subgraph.ErrRetired) {
			t.Errorf("sweeping retired %s: expected ErrRetired, got %v", sg.ID, err)
		}
	}
}

func TestSwarmSplitPlacesChildrenAndUnlinksNeighbours(t *testing.T) {
	sw := New(anchoredConfig())
	tid := mustSpawn(t, sw, types.NewVec3(0, 0, 0), WithCapacity(4))

	parent, neighbour := chain(5, 0.5), chain(1, 0.5)
	_ = sw.Sweep(tid, parent)
	_ = sw.Sweep(tid, neighbour)
	if err := sw.Connect(parent.ID, neighbour.ID); err != nil {
		t.Fatal(err)
	}

	report, err := sw.Split(parent.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Placed) != 2 || len(report.Rejected) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	total := 0
	for _, p := range report.Placed {
		if p.TornadoID != tid {
			t.Errorf("child %s placed in %s, want parent tornado", p.SubgraphID, p.TornadoID)
		}
		child, ok := sw.Lookup(p.SubgraphID)
		if !ok {
			t.Fatalf("child %s not found", p.SubgraphID)
		}
		total += child.Len()
		if len(child.Connections()) != 0 {
			t.Errorf("child inherited connections %v", child.Connections())
		}
	}
	if total != 5 {
		t.Errorf("children hold %d nodes, want 5", total)
	}

	n, _ := sw.Lookup(neighbour.ID)
	if len(n.Connections()) != 0 {
		t.Errorf("neighbour still linked to %v", n.Connections())
	}
}

func TestSwarmSplitLeavesOverflowLooseAtEye(t *testing.T) {
	sw := New(anchoredConfig())
	tid := mustSpawn(t, sw, types.NewVec3(4, 2, 0), WithCapacity(1))

	parent := chain(4, 0.5)
	if err := sw.Sweep(tid, parent); err != nil {
		t.Fatal(err)
	}

	report, err := sw.Split(parent.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Placed) != 1 || len(report.Rejected) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	rej := report.Rejected[0]
	if !errors.Is(rej.Err, ErrCapacityExceeded) {
		t.Errorf("rejection error = %v", rej.Err)
	}
	if _, ok := sw.Lookup(rej.Subgraph.ID); !ok {
		t.Fatal("rejected child was lost")
	}
	if _, ok := sw.Owner(rej.Subgraph.ID); ok {
		t.Error("rejected child should lie loose")
	}
	if st := sw.Stats(); st.Held != 1 || st.Loose != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if live := sw.Live(); len(live) != 2 {
		t.Errorf("live subgraphs = %d, want 2", len(live))
	}

	sw.Remove(report.Placed[0].SubgraphID)
	if err := sw.Step(context.Background(), 0.1); err != nil {
		t.Fatal(err)
	}
	if owner, ok := sw.Owner(rej.Subgraph.ID); !ok || owner != tid {
		t.Errorf("loose child owned by %q, want %q", owner, tid)
	}
}

func TestSwarmSplitErrors(t *testing.T) {
	sw := New(anchoredConfig())
	tid := mustSpawn(t, sw, types.NewVec3(0, 0, 0))
	sg := chain(2, 0.5)
	_ = sw.Sweep(tid, sg)

	if _, err := sw.Split("missing", 2); !errors.Is(err, ErrUnknownSubgraph) {
		t.Errorf("expected ErrUnknownSubgraph, got %v", err)
	}
	if _, err := sw.Split(sg.ID, 3); !errors.Is(err, subgraph.ErrSplitTooSmall) {
		t.Errorf("expected ErrSplitTooSmall, got %v", err)
	}
	if _, ok := sw.Owner(sg.ID); !ok {
		t.Error("failed split must leave the subgraph in place")
	}
}

func TestSwarmMergeRepointsNeighbours(t *testing.T) {
	sw := New(anchoredConfig())
	t1 := mustSpawn(t, sw, types.NewVec3(0, 0, 0))
	t2 := mustSpawn(t, sw, types.NewVec3(30, 0, 0))

	a, b, c := chain(1, 0.9), chain(1, 0.95), chain(1, 0.1)
	_ = sw.Sweep(t1, a)
	_ = sw.Sweep(t1, b)
	_ = sw.Sweep(t2, c)
	if err := sw.Connect(a.ID, c.ID); err != nil {
		t.Fatal(err)
	}

	mergedID, err := sw.Merge(a.ID, b.ID)
	if err != nil {
		t.Fatal(err)
	}

	merged, _ := sw.Lookup(mergedID)
	peer, _ := sw.Lookup(c.ID)
	if !merged.ConnectedTo(c.ID) || !peer.ConnectedTo(mergedID) {
		t.Errorf("link not re-pointed: merged=%v peer=%v", merged.Connections(), peer.Connections())
	}
	if peer.ConnectedTo(a.ID) {
		t.Error("peer still linked to retired operand")
	}
	if owner, _ := sw.Owner(mergedID); owner != t1 {
		t.Errorf("merged subgraph owned by %s, want %s", owner, t1)
	}
}

func TestSwarmMergeRequiresColocationAndCompatibility(t *testing.T) {
	sw := New(anchoredConfig())
	t1 := mustSpawn(t, sw, types.NewVec3(0, 0, 0))
	t2 := mustSpawn(t, sw, types.NewVec3(30, 0, 0))

	a, b, far := chain(1, 0.9), chain(1, 0.1), chain(1, 0.9)
	_ = sw.Sweep(t1, a)
	_ = sw.Sweep(t1, b)
	_ = sw.Sweep(t2, far)

	if _, err := sw.Merge(a.ID, far.ID); !errors.Is(err, ErrNotColocated) {
		t.Errorf("expected ErrNotColocated, got %v", err)
	}
	if _, err := sw.Merge(a.ID, b.ID); !errors.Is(err, subgraph.ErrIncompatibleMerge) {
		t.Errorf("expected ErrIncompatibleMerge, got %v", err)
	}
	if sw.IsRetired(a.ID) || sw.IsRetired(b.ID) {
		t.Error("failed merge must not retire operands")
	}
}

func TestSwarmSweepsLooseSubgraphsInRadius(t *testing.T) {
	sw := New(anchoredConfig())
	near := mustSpawn(t, sw, types.NewVec3(0, 0, 0), WithRadius(5))
	_ = mustSpawn(t, sw, types.NewVec3(8, 0, 0), WithRadius(10))

	inRange, lost := chain(1, 0.1), chain(1, 0.9)
	if err := sw.Drop(inRange, types.NewVec3(3, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := sw.Drop(lost, types.NewVec3(100, 0, 0)); err != nil {
		t.Fatal(err)
	}

	if err := sw.Step(context.Background(), 0.1); err != nil {
		t.Fatal(err)
	}

	if owner, ok := sw.Owner(inRange.ID); !ok || owner != near {
		t.Errorf("loose subgraph owned by %q, want nearest tornado %q", owner, near)
	}
	if _, ok := sw.Owner(lost.ID); ok {
		t.Error("out-of-range subgraph should stay loose")
	}
	if st := sw.Stats(); st.Loose != 1 || st.Held != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestSwarmFinalizeAfterAge(t *testing.T) {
	cfg := anchoredConfig()
	cfg.FinalizeAfter = 3
	sw := New(cfg)
	tid := mustSpawn(t, sw, types.NewVec3(0, 0, 0))
	_ = sw.Sweep(tid, chain(2, 0.5))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_ = sw.Step(ctx, 0.1)
	}
	if got := sw.CollectTerminal(); len(got) != 0 {
		t.Fatalf("terminal too early: %d", len(got))
	}

	_ = sw.Step(ctx, 0.1)
	got := sw.CollectTerminal()
	if len(got) != 1 {
		t.Fatalf("expected 1 terminal subgraph, got %d", len(got))
	}
	// Collection does not remove.
	if sw.Stats().Held != 1 {
		t.Error("collect_terminal must not release")
	}
}

func TestSwarmFinalizeOnExpectedConnections(t *testing.T) {
	cfg := anchoredConfig()
	cfg.FinalizeAfter = 0
	cfg.ExpectedConnections = 1
	sw := New(cfg)
	tid := mustSpawn(t, sw, types.NewVec3(0, 0, 0))
	_ = sw.Sweep(tid, chain(1, 0.5))
	_ = sw.Sweep(tid, chain(1, 0.55))

	_ = sw.Step(context.Background(), 0.1)

	if got := sw.CollectTerminal(); len(got) != 2 {
		t.Errorf("expected both connected subgraphs terminal, got %d", len(got))
	}
}

func TestSwarmCollectTerminalReturnsClones(t *testing.T) {
	sw := New(anchoredConfig())
	tid := mustSpawn(t, sw, types.NewVec3(0, 0, 0))
	sg := chain(2, 0.5)
	_ = sw.Sweep(tid, sg)
	if err := sw.Finalize(sg.ID); err != nil {
		t.Fatal(err)
	}

	out := sw.CollectTerminal()
	if len(out) != 1 {
		t.Fatalf("expected 1 terminal, got %d", len(out))
	}
	out[0].Strength = 42

	again, _ := sw.Lookup(sg.ID)
	if again.Strength != 0.5 {
		t.Error("mutating a collected subgraph leaked into the swarm")
	}
}

func TestSwarmObserversSeeEvents(t *testing.T) {
	var kinds []EventKind
	sw := New(anchoredConfig(), WithObserver(ObserverFunc(func(e Event) {
		kinds = append(kinds, e.Kind)
	})))
	tid := mustSpawn(t, sw, types.NewVec3(0, 0, 0), WithCapacity(2))
	_ = sw.Sweep(tid, chain(1, 0.9))
	_ = sw.Sweep(tid, chain(1, 0.95))
	_ = sw.Step(context.Background(), 0.1)

	want := []EventKind{EventSpawn, EventSweep, EventSweep, EventMerge, EventStep}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestSwarmMovementIsReproducible(t *testing.T) {
	run := func() []types.Vec3 {
		sw := New(DefaultConfig())
		for i := 0; i < 3; i++ {
			if _, err := sw.SpawnTornado(types.NewVec3(float64(i)*10, float64(i)*5, 0)); err != nil {
				t.Fatal(err)
			}
		}
		for i := 0; i < 10; i++ {
			_ = sw.Step(context.Background(), 0.5)
		}
		var eyes []types.Vec3
		for _, info := range sw.Tornadoes() {
			eyes = append(eyes, info.Eye)
		}
		return eyes
	}

	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("same seed produced different trajectories:\n%s", diff)
	}
}

func TestSwarmConcurrentAccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	sw := New(DefaultConfig())
	for i := 0; i < 4; i++ {
		mustSpawn(t, sw, types.NewVec3(float64(i), 0, 0), WithCapacity(16))
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				sw.Distribute([]*subgraph.Subgraph{chain(2, 0.5)})
				_ = sw.Step(context.Background(), 0.1)
				_ = sw.CollectTerminal()
				_ = sw.Stats()
			}
		}()
	}
	wg.Wait()

	for _, info := range sw.Tornadoes() {
		if len(info.Held) > info.Capacity {
			t.Errorf("tornado %s holds %d > %d", info.ID, len(info.Held), info.Capacity)
		}
	}
}

func TestSwarmStepHonoursCancelledContext(t *testing.T) {
	sw := New(anchoredConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sw.Step(ctx, 0.1); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if sw.Stats().Step != 0 {
		t.Error("cancelled step must not advance the clock")
	}
}
