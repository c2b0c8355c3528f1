package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/marmos91/smbiod/pkg/iod"
)

// ConnectionLister is satisfied by *iod.Manager.
type ConnectionLister interface {
	List() []*iod.Connection
}

// Response is the envelope for every health response.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ConnectionHealth is one entry of GET /health/connections.
type ConnectionHealth struct {
	ID          string        `json:"id"`
	Server      string        `json:"server"`
	State       string        `json:"state"`
	Generation  uint64        `json:"generation"`
	Dialect     string        `json:"dialect,omitempty"`
	InFlight    int           `json:"in_flight"`
	Queued      int           `json:"queued"`
	Completed   uint64        `json:"completed"`
	Timeouts    uint64        `json:"timeouts"`
	Failures    uint64        `json:"failures"`
	Shares      []ShareHealth `json:"shares"`
	LastReceive string        `json:"last_receive,omitempty"`
}

// ShareHealth reports the reachability of one attached share.
type ShareHealth struct {
	Name      string `json:"name"`
	Attached  bool   `json:"attached"`
	Reachable bool   `json:"reachable"`
}

// HealthHandler serves the /health routes.
type HealthHandler struct {
	conns ConnectionLister
}

// NewHealthHandler creates a health handler. conns may be nil, in which
// case readiness reports unhealthy.
func NewHealthHandler(conns ConnectionLister) *HealthHandler {
	return &HealthHandler{conns: conns}
}

// Liveness handles GET /health. It succeeds while the process serves HTTP.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "smbiod",
	}))
}

// Readiness handles GET /health/ready: 200 when there is at least one
// connection and every connection is Active, 503 otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.conns == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("no connection manager"))
		return
	}

	conns := h.conns.List()
	if len(conns) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("no connections"))
		return
	}
	for _, c := range conns {
		if st := c.State(); st != iod.StateActive {
			writeJSON(w, http.StatusServiceUnavailable,
				unhealthyResponse(fmt.Sprintf("connection %s to %s is %s", c.ID(), c.Server(), st)))
			return
		}
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]int{"connections": len(conns)}))
}

// Connections handles GET /health/connections. It returns 503 when any
// connection is not Active or any attached share is unreachable.
func (h *HealthHandler) Connections(w http.ResponseWriter, r *http.Request) {
	if h.conns == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("no connection manager"))
		return
	}

	allHealthy := true
	out := make([]ConnectionHealth, 0)
	for _, c := range h.conns.List() {
		st := c.Stats()
		ch := ConnectionHealth{
			ID:         st.ID,
			Server:     st.Server,
			State:      st.State.String(),
			Generation: st.Generation,
			Dialect:    st.Dialect,
			InFlight:   st.InFlight,
			Queued:     st.Queued,
			Completed:  st.Completed,
			Timeouts:   st.Timeouts,
			Failures:   st.Failures,
			Shares:     make([]ShareHealth, 0),
		}
		if !st.LastReceive.IsZero() {
			ch.LastReceive = st.LastReceive.UTC().Format(time.RFC3339)
		}
		if st.State != iod.StateActive {
			allHealthy = false
		}
		for _, s := range c.Shares() {
			sh := ShareHealth{Name: s.Name, Attached: s.Attached(), Reachable: s.Reachable()}
			if sh.Attached && !sh.Reachable {
				allHealthy = false
			}
			ch.Shares = append(ch.Shares, sh)
		}
		out = append(out, ch)
	}

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(out))
	} else {
		resp := unhealthyResponse("one or more connections degraded")
		resp.Data = out
		writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

func healthyResponse(data interface{}) Response {
	return Response{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyResponse(errMsg string) Response {
	return Response{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: errMsg}
}
