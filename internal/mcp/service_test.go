package mcp

import (
	"context"
	"slices"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/wingbeat/pkg/pipeline"
	"github.com/sanonone/wingbeat/pkg/swarm"
)

func newService() *Service {
	proc := pipeline.NewProcessor(swarm.New(swarm.DefaultConfig()), nil, pipeline.DefaultConfig())
	return NewService(proc)
}

func TestToolsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newService()

	_, spawned, err := s.SpawnTornado(ctx, nil, SpawnTornadoArgs{X: 1, Capacity: 4})
	if err != nil {
		t.Fatal(err)
	}
	if spawned.TornadoID == "" || spawned.Tornadoes != 1 {
		t.Fatalf("spawn = %+v", spawned)
	}

	_, sent, err := s.SendPrompt(ctx, nil, SendPromptArgs{Prompt: "tools all the way"})
	if err != nil {
		t.Fatal(err)
	}
	if sent.Fragments != 2 {
		t.Errorf("fragments = %d", sent.Fragments)
	}

	_, early, err := s.CollectResult(ctx, nil, CollectResultArgs{RunID: sent.RunID})
	if err != nil || early.Ready {
		t.Fatalf("collect before stepping = %+v, %v", early, err)
	}

	var res CollectResultResult
	for i := 0; i < 100 && !res.Ready; i++ {
		if _, _, err := s.StepSwarm(ctx, nil, StepSwarmArgs{}); err != nil {
			t.Fatal(err)
		}
		_, res, err = s.CollectResult(ctx, nil, CollectResultArgs{RunID: sent.RunID})
		if err != nil {
			t.Fatal(err)
		}
	}
	if !res.Ready || res.Text != "TOOLS ALL THE WAY" {
		t.Fatalf("result = %+v", res)
	}

	_, status, err := s.SwarmStatus(ctx, nil, SwarmStatusArgs{})
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Tornadoes) != 1 || len(status.Runs) != 1 || status.Runs[0].State != "complete" {
		t.Errorf("status = %+v", status)
	}
}

func TestToolErrors(t *testing.T) {
	ctx := context.Background()
	s := newService()

	if _, _, err := s.SpawnTornado(ctx, nil, SpawnTornadoArgs{Capacity: -1}); err == nil {
		t.Error("negative capacity accepted")
	}
	if _, _, err := s.SendPrompt(ctx, nil, SendPromptArgs{Prompt: " "}); err == nil {
		t.Error("empty prompt accepted")
	}
	if _, _, err := s.StepSwarm(ctx, nil, StepSwarmArgs{Steps: maxToolSteps + 1}); err == nil {
		t.Error("step budget not enforced")
	}
	if _, _, err := s.CollectResult(ctx, nil, CollectResultArgs{RunID: "nope"}); err == nil {
		t.Error("unknown run accepted")
	}
}

func TestServerListsTools(t *testing.T) {
	ctx := context.Background()
	proc := pipeline.NewProcessor(swarm.New(swarm.DefaultConfig()), nil, pipeline.DefaultConfig())
	server := NewMCPServer(proc)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	list, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	want := []string{"collect_result", "send_prompt", "spawn_tornado", "step_swarm", "swarm_status"}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}
