package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nofree-network/nofree/internal/domain"
)

// ─── Stored Runs (/api/runs) ────────────────────────────────────────────────

type runSummary struct {
	ID        string           `json:"id"`
	Status    domain.RunStatus `json:"status"`
	Seed      uint64           `json:"seed"`
	Topology  string           `json:"topology"`
	Nodes     int              `json:"nodes"`
	SimTime   string           `json:"sim_time"`
	Events    int64            `json:"events"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
}

func summarize(r domain.RunReport) runSummary {
	return runSummary{
		ID:        r.ID,
		Status:    r.Status,
		Seed:      r.Seed,
		Topology:  r.Topology,
		Nodes:     r.Nodes,
		SimTime:   r.Duration.String(),
		Events:    r.Events,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		s.internalError(w, "list runs", err)
		return
	}

	out := make([]runSummary, len(runs))
	for i, run := range runs {
		out[i] = summarize(run)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs": out,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":      summarize(*run),
		"totals":   run.Totals(),
		"per_node": run.PerNode,
	})
}

func (s *Server) handleRunReputation(w http.ResponseWriter, r *http.Request) {
	node, ok := parseNode(w, r)
	if !ok {
		return
	}
	table, err := s.runs.NodeReputation(chi.URLParam(r, "id"), node)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node":       node,
		"reputation": reputationEntries(table),
	})
}

// ─── Live Simulation (/api/sim) ─────────────────────────────────────────────

func (s *Server) handleSimStatus(w http.ResponseWriter, r *http.Request) {
	live := s.simulation()
	if live == nil {
		writeError(w, http.StatusNotFound, "no simulation attached")
		return
	}
	st := live.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":      st.RunID,
		"running":     st.Running,
		"sim_time":    st.Now.String(),
		"events":      st.Events,
		"queue_depth": st.QueueDepth,
		"nodes":       st.Nodes,
		"topology":    st.Topology,
	})
}

func (s *Server) handleSimNodes(w http.ResponseWriter, r *http.Request) {
	live := s.simulation()
	if live == nil {
		writeError(w, http.StatusNotFound, "no simulation attached")
		return
	}
	nodes := live.Nodes()
	out := make([]nodeView, len(nodes))
	for i, n := range nodes {
		out[i] = viewNode(n)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": out,
	})
}

func (s *Server) handleSimNode(w http.ResponseWriter, r *http.Request) {
	live := s.simulation()
	if live == nil {
		writeError(w, http.StatusNotFound, "no simulation attached")
		return
	}
	id, ok := parseNode(w, r)
	if !ok {
		return
	}
	st, err := live.Node(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewNode(st))
}

// ─── Views ──────────────────────────────────────────────────────────────────

type reputationEntry struct {
	Peer       domain.PeerID `json:"peer"`
	Accepted   int           `json:"accepted"`
	Total      int           `json:"total"`
	Ratio      *float64      `json:"ratio,omitempty"`
	LastUpdate string        `json:"last_update"`
	ValidUntil string        `json:"valid_until,omitempty"`
}

func reputationEntries(table map[domain.PeerID]domain.ReputationRecord) []reputationEntry {
	out := make([]reputationEntry, 0, len(table))
	for peer, rec := range table {
		e := reputationEntry{
			Peer:       peer,
			Accepted:   rec.Accepted,
			Total:      rec.Total,
			LastUpdate: rec.LastUpdate.String(),
		}
		if ratio, ok := rec.Ratio(); ok {
			e.Ratio = &ratio
		}
		if rec.ValidUntil > 0 {
			e.ValidUntil = rec.ValidUntil.String()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

type nodeView struct {
	ID             domain.PeerID             `json:"id"`
	Population     string                    `json:"population"`
	Kindness       float64                   `json:"kindness"`
	ShareRate      float64                   `json:"required_share_rate"`
	Neighbors      []domain.PeerID           `json:"neighbors"`
	PendingRequest *domain.PeerID            `json:"pending_request,omitempty"`
	PendingServe   *domain.PendingServeState `json:"pending_serve,omitempty"`
	Reputation     []reputationEntry         `json:"reputation"`
	Stats          domain.NodeStats          `json:"stats"`
	Stopped        bool                      `json:"stopped"`
}

func viewNode(st domain.NodeState) nodeView {
	nbs := make([]domain.PeerID, len(st.Neighbors))
	for i, nb := range st.Neighbors {
		nbs[i] = nb.Peer
	}
	return nodeView{
		ID:             st.ID,
		Population:     st.Population,
		Kindness:       st.Kindness,
		ShareRate:      st.ShareRate,
		Neighbors:      nbs,
		PendingRequest: st.PendingRequest,
		PendingServe:   st.PendingServe,
		Reputation:     reputationEntries(st.Reputation),
		Stats:          st.Stats,
		Stopped:        st.Stopped,
	}
}

// ─── Error Mapping ──────────────────────────────────────────────────────────

func parseNode(w http.ResponseWriter, r *http.Request) (domain.PeerID, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "node"))
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "node must be a non-negative integer")
		return 0, false
	}
	return domain.PeerID(n), true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRunNotFound), errors.Is(err, domain.ErrNodeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.internalError(w, "store", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Warn("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}
