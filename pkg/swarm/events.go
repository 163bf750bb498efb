package swarm

import (
	"log/slog"

	"github.com/sanonone/wingbeat/pkg/core/types"
	"github.com/sanonone/wingbeat/pkg/metrics"
)

// EventKind names a meaningful swarm event.
type EventKind string

const (
	EventSpawn    EventKind = "spawn"
	EventSweep    EventKind = "sweep"
	EventRelease  EventKind = "release"
	EventReject   EventKind = "reject"
	EventSplit    EventKind = "split"
	EventMerge    EventKind = "merge"
	EventConnect  EventKind = "connect"
	EventFinalize EventKind = "finalize"
	EventStep     EventKind = "step"
)

// Event describes something that happened in the swarm. Observers receive
// events after the operation completed and the swarm lock was released.
type Event struct {
	Kind      EventKind
	Step      uint64
	TornadoID string
	// Subgraphs are the ids the event is about (operands for merge/connect, parent for split).
	Subgraphs []string
	// Results are the ids produced by the event (merged subgraph, split children).
	Results  []string
	Position types.Vec3

	// Populated on EventStep.
	Tornadoes int
	Live      int
}

// Observer is notified of swarm events. Implementations must not block for
// long; they run on the goroutine that performed the operation.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LogObserver narrates swarm events through slog.
type LogObserver struct {
	Logger *slog.Logger
}

// NewLogObserver returns a LogObserver writing to logger (slog.Default() if nil).
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{Logger: logger}
}

func (o *LogObserver) OnEvent(e Event) {
	switch e.Kind {
	case EventSpawn:
		o.Logger.Info("[SWARM] Spawning tornado", "tornado", short(e.TornadoID),
			"x", e.Position.X, "y", e.Position.Y, "z", e.Position.Z)
	case EventSweep:
		o.Logger.Debug("[SWARM] Tornado sweeping up subgraph", "tornado", short(e.TornadoID), "subgraph", shortAll(e.Subgraphs))
	case EventRelease:
		o.Logger.Debug("[SWARM] Releasing subgraph", "tornado", short(e.TornadoID), "subgraph", shortAll(e.Subgraphs))
	case EventReject:
		o.Logger.Warn("[SWARM] Tornado full, subgraph rejected", "tornado", short(e.TornadoID), "subgraph", shortAll(e.Subgraphs))
	case EventSplit:
		o.Logger.Info("[SWARM] Subgraph split", "parent", shortAll(e.Subgraphs), "children", shortAll(e.Results))
	case EventMerge:
		o.Logger.Info("[SWARM] Subgraphs merged", "tornado", short(e.TornadoID), "operands", shortAll(e.Subgraphs), "merged", shortAll(e.Results))
	case EventConnect:
		o.Logger.Info("[SWARM] Subgraphs connecting", "tornado", short(e.TornadoID), "pair", shortAll(e.Subgraphs))
	case EventFinalize:
		o.Logger.Debug("[SWARM] Subgraph finalized", "subgraph", shortAll(e.Subgraphs))
	case EventStep:
		o.Logger.Debug("[SWARM] Step complete", "step", e.Step, "tornadoes", e.Tornadoes, "live", e.Live)
	}
}

// MetricsObserver records swarm events as Prometheus metrics.
type MetricsObserver struct{}

func (MetricsObserver) OnEvent(e Event) {
	metrics.SwarmEvents.WithLabelValues(string(e.Kind)).Inc()
	if e.Kind == EventStep {
		metrics.SwarmSteps.Inc()
		metrics.Tornadoes.Set(float64(e.Tornadoes))
		metrics.LiveSubgraphs.Set(float64(e.Live))
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = short(id)
	}
	return out
}
