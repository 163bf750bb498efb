package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/wingbeat/pkg/core/types"
	"github.com/sanonone/wingbeat/pkg/pipeline"
	"github.com/sanonone/wingbeat/pkg/swarm"
)

const maxToolSteps = 1000

type Service struct {
	proc *pipeline.Processor

	// stepMu keeps step_swarm calls from interleaving.
	stepMu sync.Mutex
}

func NewService(proc *pipeline.Processor) *Service {
	return &Service{proc: proc}
}

// --- Tool Handlers ---

func (s *Service) SpawnTornado(ctx context.Context, req *mcp.CallToolRequest, args SpawnTornadoArgs) (*mcp.CallToolResult, SpawnTornadoResult, error) {
	if args.Capacity < 0 {
		return nil, SpawnTornadoResult{}, fmt.Errorf("capacity must not be negative")
	}
	var opts []swarm.TornadoOption
	if args.Capacity > 0 {
		opts = append(opts, swarm.WithCapacity(args.Capacity))
	}

	sw := s.proc.Swarm()
	id, err := sw.SpawnTornado(types.NewVec3(args.X, args.Y, args.Z), opts...)
	if err != nil {
		return nil, SpawnTornadoResult{}, err
	}
	return nil, SpawnTornadoResult{TornadoID: id, Tornadoes: sw.TornadoCount()}, nil
}

func (s *Service) SendPrompt(ctx context.Context, req *mcp.CallToolRequest, args SendPromptArgs) (*mcp.CallToolResult, SendPromptResult, error) {
	var (
		id  string
		err error
	)
	if args.Strategy == "" && args.Size == 0 {
		id, err = s.proc.SendPrompt(ctx, args.Prompt)
	} else {
		ps := pipeline.PromptStrategy{Kind: pipeline.PromptStrategyKind(args.Strategy), Size: args.Size}
		if ps.Kind == pipeline.PromptIrregular {
			ps = pipeline.Irregular(args.Seed)
		}
		id, err = s.proc.SendPromptWith(ctx, args.Prompt, ps)
	}
	if err != nil {
		return nil, SendPromptResult{}, err
	}

	st, err := s.proc.Status(id)
	if err != nil {
		return nil, SendPromptResult{}, err
	}
	return nil, SendPromptResult{RunID: id, Fragments: st.Fragments, Pending: st.Pending}, nil
}

func (s *Service) StepSwarm(ctx context.Context, req *mcp.CallToolRequest, args StepSwarmArgs) (*mcp.CallToolResult, StepSwarmResult, error) {
	steps, dt := args.Steps, args.DT
	if steps == 0 {
		steps = 1
	}
	if dt == 0 {
		dt = 0.1
	}
	if steps < 0 || steps > maxToolSteps || dt < 0 {
		return nil, StepSwarmResult{}, fmt.Errorf("steps must be in 1..%d and dt positive", maxToolSteps)
	}

	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	for i := 0; i < steps; i++ {
		if err := s.proc.ProcessStep(ctx, dt); err != nil {
			return nil, StepSwarmResult{}, fmt.Errorf("step %d: %w", i, err)
		}
	}

	st := s.proc.Swarm().Stats()
	return nil, StepSwarmResult{
		Steps:     steps,
		Step:      st.Step,
		Tornadoes: st.Tornadoes,
		Held:      st.Held,
		Loose:     st.Loose,
		Terminal:  st.Terminal,
	}, nil
}

// CollectResult never blocks: it reports ready=false while fragments are
// still in flight.
func (s *Service) CollectResult(ctx context.Context, req *mcp.CallToolRequest, args CollectResultArgs) (*mcp.CallToolResult, CollectResultResult, error) {
	st, err := s.proc.Status(args.RunID)
	if err != nil {
		return nil, CollectResultResult{}, err
	}

	res, ok := s.proc.CollectResults(args.RunID)
	if !ok {
		return nil, CollectResultResult{State: string(st.State), Pieces: []string{}}, nil
	}
	return nil, CollectResultResult{
		Ready:  true,
		State:  string(pipeline.StateComplete),
		Text:   res.Text,
		Pieces: res.Pieces,
	}, nil
}

func (s *Service) SwarmStatus(ctx context.Context, req *mcp.CallToolRequest, args SwarmStatusArgs) (*mcp.CallToolResult, SwarmStatusResult, error) {
	sw := s.proc.Swarm()
	out := SwarmStatusResult{
		Step:      sw.Stats().Step,
		Tornadoes: []TornadoSummary{},
		Runs:      []RunSummary{},
	}
	for _, t := range sw.Tornadoes() {
		out.Tornadoes = append(out.Tornadoes, TornadoSummary{
			ID:       t.ID,
			X:        t.Eye.X,
			Y:        t.Eye.Y,
			Z:        t.Eye.Z,
			Radius:   t.Radius,
			Capacity: t.Capacity,
			Held:     len(t.Held),
		})
	}
	for _, r := range s.proc.Runs() {
		out.Runs = append(out.Runs, RunSummary{
			RunID:      r.ID,
			State:      string(r.State),
			Fragments:  r.Fragments,
			Dispatched: r.Dispatched,
			Failures:   r.Failures,
		})
	}
	return nil, out, nil
}
