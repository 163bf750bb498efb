package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sanonone/wingbeat/pkg/pipeline"
	"github.com/sanonone/wingbeat/pkg/swarm"
)

const (
	defaultDT = 0.1
	// maxSyncSteps bounds POST /swarm/step; longer runs go through /swarm/actions/run.
	maxSyncSteps  = 1000
	maxAsyncSteps = 100000
)

func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	if s.node != nil {
		mux.Handle("POST /task", s.node)
	}

	// --- Swarm ---
	mux.HandleFunc("GET /swarm/tornadoes", s.handleListTornadoes)
	mux.HandleFunc("POST /swarm/tornadoes", s.handleSpawnTornado)
	mux.HandleFunc("GET /swarm/stats", s.handleSwarmStats)
	mux.HandleFunc("POST /swarm/step", s.handleStep)
	mux.HandleFunc("POST /swarm/actions/run", s.handleRunTask)

	// --- System ---
	mux.HandleFunc("GET /system/tasks/{id}", s.handleGetTask)

	// --- Runs ---
	mux.HandleFunc("POST /prompts", s.handleSendPrompt)
	mux.HandleFunc("POST /models", s.handleSendModel)
	mux.HandleFunc("GET /prompts", s.handleListRuns)
	mux.HandleFunc("GET /prompts/{id}", s.handleGetRun)
}

// --- Swarm ---

func (s *Server) handleListTornadoes(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, s.swarm.Tornadoes())
}

func (s *Server) handleSpawnTornado(w http.ResponseWriter, r *http.Request) {
	var req SpawnTornadoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Capacity < 0 || req.Radius < 0 {
		s.writeHTTPError(w, http.StatusBadRequest, "capacity and radius must not be negative")
		return
	}

	var opts []swarm.TornadoOption
	if req.Capacity > 0 {
		opts = append(opts, swarm.WithCapacity(req.Capacity))
	}
	if req.Radius > 0 {
		opts = append(opts, swarm.WithRadius(req.Radius))
	}
	if req.Velocity != nil {
		opts = append(opts, swarm.WithVelocity(*req.Velocity))
	}

	id, err := s.swarm.SpawnTornado(req.Position, opts...)
	if err != nil {
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, SpawnTornadoResponse{ID: id})
}

func (s *Server) handleSwarmStats(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, s.swarm.Stats())
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStepRequest(w, r, maxSyncSteps)
	if !ok {
		return
	}

	done, err := s.runSteps(r.Context(), req.DT, req.Steps, nil)
	if err != nil {
		s.writeHTTPError(w, http.StatusInternalServerError, fmt.Sprintf("step %d failed: %v", done, err))
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, StepResponse{Steps: done, Stats: s.swarm.Stats()})
}

// handleRunTask steps the processor in the background and returns a task id
// that can be polled on /system/tasks/{id}.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeStepRequest(w, r, maxAsyncSteps)
	if !ok {
		return
	}

	task := s.taskManager.NewTask("swarm_run", req.Steps)
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		task.SetStatus(TaskStatusRunning)

		done, err := s.runSteps(s.bgCtx, req.DT, req.Steps, func(n int) {
			task.SetProgress(n, fmt.Sprintf("%d/%d steps", n, req.Steps))
		})
		if err != nil {
			slog.Error("[SERVER] Background run failed", "task", task.ID, "steps", done, "error", err)
			task.SetError(err)
			return
		}
		task.Complete(s.swarm.Stats())
	}()

	s.writeHTTPResponse(w, http.StatusAccepted, TaskAccepted{TaskID: task.ID})
}

func (s *Server) decodeStepRequest(w http.ResponseWriter, r *http.Request, limit int) (StepRequest, bool) {
	var req StepRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body")
			return req, false
		}
	}
	if req.DT == 0 {
		req.DT = defaultDT
	}
	if req.Steps == 0 {
		req.Steps = 1
	}
	if req.DT < 0 || req.Steps < 0 || req.Steps > limit {
		s.writeHTTPError(w, http.StatusBadRequest, fmt.Sprintf("dt must be positive and steps in 1..%d", limit))
		return req, false
	}
	return req, true
}

// runSteps advances the processor n times. progress, if set, is called after
// every step with the number of completed steps.
func (s *Server) runSteps(ctx context.Context, dt float64, n int, progress func(int)) (int, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	for i := 0; i < n; i++ {
		if err := s.proc.ProcessStep(ctx, dt); err != nil {
			return i, err
		}
		if progress != nil {
			progress(i + 1)
		}
	}
	return n, nil
}

// --- System ---

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.taskManager.GetTask(r.PathValue("id"))
	if !ok {
		s.writeHTTPError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, task.Snapshot())
}

// --- Runs ---

func (s *Server) handleSendPrompt(w http.ResponseWriter, r *http.Request) {
	var req PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var (
		id  string
		err error
	)
	if req.Strategy == "" && req.Size == 0 {
		id, err = s.proc.SendPrompt(r.Context(), req.Prompt)
	} else {
		id, err = s.proc.SendPromptWith(r.Context(), req.Prompt, promptStrategy(req))
	}
	s.writeRunAccepted(w, id, err)
}

func promptStrategy(req PromptRequest) pipeline.PromptStrategy {
	switch pipeline.PromptStrategyKind(req.Strategy) {
	case pipeline.PromptRunes:
		return pipeline.Runes(req.Size)
	case pipeline.PromptIrregular:
		return pipeline.Irregular(req.Seed)
	case pipeline.PromptWords, "":
		return pipeline.Words(req.Size)
	}
	// Unknown kinds are rejected by the decomposer.
	return pipeline.PromptStrategy{Kind: pipeline.PromptStrategyKind(req.Strategy), Size: req.Size}
}

func (s *Server) handleSendModel(w http.ResponseWriter, r *http.Request) {
	var req ModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	strategy, err := pipeline.ParseStrategy(req.Strategy, req.Heads, req.ChunkSize)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	model := pipeline.SampleModel()
	if req.Model != nil {
		model = *req.Model
	}

	id, err := s.proc.SendModel(r.Context(), req.Input, model, strategy)
	s.writeRunAccepted(w, id, err)
}

func (s *Server) writeRunAccepted(w http.ResponseWriter, id string, err error) {
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyInput) || errors.Is(err, pipeline.ErrUnknownStrategy) {
			s.writeHTTPError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	st, err := s.proc.Status(id)
	if err != nil {
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeHTTPResponse(w, http.StatusAccepted, RunAccepted{RunID: id, Status: st})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, s.proc.Runs())
}

// handleGetRun returns the reassembled result once every fragment is back,
// the run status while it is still in the swarm.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if res, ok := s.proc.CollectResults(id); ok {
		s.writeHTTPResponse(w, http.StatusOK, res)
		return
	}

	st, err := s.proc.Status(id)
	if err != nil {
		s.writeHTTPError(w, http.StatusNotFound, err.Error())
		return
	}
	if st.State == pipeline.StateExpired {
		s.writeHTTPResponse(w, http.StatusGone, st)
		return
	}
	s.writeHTTPResponse(w, http.StatusAccepted, st)
}

// --- HTTP response helpers ---

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}
