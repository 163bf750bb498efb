// Package mcp exposes the swarm pipeline as Model Context Protocol tools.
package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/wingbeat/pkg/pipeline"
)

// Version is reported in the MCP implementation info.
const Version = "0.1.0"

func NewMCPServer(proc *pipeline.Processor) *mcp.Server {
	service := NewService(proc)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "Wingbeat Swarm",
		Version: Version,
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "spawn_tornado",
		Description: "Spawn a tornado at a position. Tornadoes hold subgraphs and merge compatible ones as they move.",
	}, service.SpawnTornado)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "send_prompt",
		Description: "Fragment a prompt and hand the fragments to the swarm. Returns the run id.",
	}, service.SendPrompt)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "step_swarm",
		Description: "Advance the pipeline: dispatch pending fragments, then tick the swarm.",
	}, service.StepSwarm)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "collect_result",
		Description: "Collect the reassembled result of a run. Returns ready=false until every fragment is back.",
	}, service.CollectResult)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "swarm_status",
		Description: "Show tornadoes and runs currently in the swarm.",
	}, service.SwarmStatus)

	return s
}
