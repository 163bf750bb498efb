package transport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// maxFragmentBytes bounds the body a node accepts.
const maxFragmentBytes = 1 << 20

// NodeHandler is the receiving side of HTTPDispatcher: a compute node that
// accepts fragments on POST and acknowledges them.
type NodeHandler struct {
	NodeID string
	// OnFragment, if set, is called for every accepted fragment.
	OnFragment func(Fragment)

	received atomic.Int64
}

// NewNodeHandler returns a handler answering as nodeID.
func NewNodeHandler(nodeID string) *NodeHandler {
	return &NodeHandler{NodeID: nodeID}
}

// Received returns the number of fragments accepted so far.
func (h *NodeHandler) Received() int64 { return h.received.Load() }

func (h *NodeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var f Fragment
	if err := json.NewDecoder(io.LimitReader(r.Body, maxFragmentBytes)).Decode(&f); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if f.TaskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "task_id is required"})
		return
	}

	h.received.Add(1)
	if h.OnFragment != nil {
		h.OnFragment(f)
	}
	slog.Debug("[NODE] Fragment accepted", "node", h.NodeID, "task_id", f.TaskID, "run", f.RunID, "seq", f.Seq)

	writeJSON(w, http.StatusOK, FragmentResult{TaskID: f.TaskID, NodeID: h.NodeID, Status: StatusAccepted})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}
