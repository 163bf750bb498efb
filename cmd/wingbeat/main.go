// Command wingbeat runs a self-contained demo: a compute node on a loopback
// listener, a swarm of three tornadoes and one prompt carried through it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sanonone/wingbeat/pkg/config"
	"github.com/sanonone/wingbeat/pkg/core/types"
	"github.com/sanonone/wingbeat/pkg/pipeline"
	"github.com/sanonone/wingbeat/pkg/swarm"
	"github.com/sanonone/wingbeat/pkg/transport"
)

const (
	demoPrompt = "tornadoes carry the pieces of a thought across the sky"
	stepBudget = 200
	stepDT     = 0.1
)

func main() {
	cfg := config.DefaultConfig()
	logger := config.SetupLogger(cfg.Log)

	if err := run(logger, cfg); err != nil {
		slog.Error("Demo failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg config.Config) error {
	ctx := context.Background()

	// 1. Compute node on a loopback port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	node := transport.NewNodeHandler("demo-node")
	nodeSrv := &http.Server{Handler: node, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := nodeSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[NODE] Server stopped", "error", err)
		}
	}()
	defer nodeSrv.Close()

	cfg.Transport.Endpoint = "http://" + ln.Addr().String() + "/task"
	dispatcher := transport.NewHTTPDispatcher(cfg.Transport)

	// 2. Swarm
	sw := swarm.New(cfg.Swarm, swarm.WithObserver(swarm.NewLogObserver(logger)))
	for i := 0; i < 3; i++ {
		if _, err := sw.SpawnTornado(types.NewVec3(float64(i)*10, float64(i)*5, 0)); err != nil {
			return err
		}
	}

	// 3. Prompt
	proc := pipeline.NewProcessor(sw, dispatcher, cfg.Pipeline, pipeline.WithLogger(logger))
	runID, err := proc.SendPrompt(ctx, demoPrompt)
	if err != nil {
		return err
	}
	fmt.Printf("Sent prompt %q (run %s)\n", demoPrompt, runID)

	// 4. Step until the result is back
	for step := 1; step <= stepBudget; step++ {
		if err := proc.ProcessStep(ctx, stepDT); err != nil {
			return err
		}
		if res, ok := proc.CollectResults(runID); ok {
			fmt.Printf("Collected after %d steps (%d fragments received by %s)\n", step, node.Received(), node.NodeID)
			for i, piece := range res.Pieces {
				fmt.Printf("  [%d] %s\n", i, piece)
			}
			fmt.Println(res.Text)
			return nil
		}
	}

	st, _ := proc.Status(runID)
	fmt.Printf("Result not ready after %d steps: state=%s dispatched=%d/%d\n",
		stepBudget, st.State, st.Dispatched, st.Fragments)
	return nil
}
