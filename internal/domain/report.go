package domain

import "time"

// ─── Node Statistics ────────────────────────────────────────────────────────

// NodeStats are the counters a node accumulates over a run.
type NodeStats struct {
	RequestsSent      int64 `json:"requests_sent"`
	RequestsFulfilled int64 `json:"requests_fulfilled"`
	RequestsTimedOut  int64 `json:"requests_timed_out"`
	DownloadsSkipped  int64 `json:"downloads_skipped"` // no neighbors

	Negotiations int64 `json:"negotiations"`
	Served       int64 `json:"served"`
	Refused      int64 `json:"refused"`
	BusyDrops    int64 `json:"busy_drops"`
	OpinionsUsed int64 `json:"opinions_used"`

	Sent     map[string]int64 `json:"sent"`     // by message kind
	Received map[string]int64 `json:"received"` // by message kind
	Dropped  map[string]int64 `json:"dropped"`  // by reason
}

// NewNodeStats returns stats with all maps allocated.
func NewNodeStats() NodeStats {
	return NodeStats{
		Sent:     make(map[string]int64),
		Received: make(map[string]int64),
		Dropped:  make(map[string]int64),
	}
}

// Clone returns a deep copy.
func (s NodeStats) Clone() NodeStats {
	c := s
	c.Sent = cloneCounts(s.Sent)
	c.Received = cloneCounts(s.Received)
	c.Dropped = cloneCounts(s.Dropped)
	return c
}

// ServeRate returns Served / Negotiations, or 0 when there were none.
func (s NodeStats) ServeRate() float64 {
	if s.Negotiations == 0 {
		return 0
	}
	return float64(s.Served) / float64(s.Negotiations)
}

// FulfilledRate returns RequestsFulfilled / RequestsSent, or 0 when none were sent.
func (s NodeStats) FulfilledRate() float64 {
	if s.RequestsSent == 0 {
		return 0
	}
	return float64(s.RequestsFulfilled) / float64(s.RequestsSent)
}

func cloneCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ─── Live Node State ────────────────────────────────────────────────────────

// PendingServeState describes the negotiation a node is evaluating.
type PendingServeState struct {
	Requester    PeerID           `json:"requester"`
	ReplyLink    int              `json:"reply_link"`
	Nonce        uint64           `json:"nonce"`
	Contributors []PeerID         `json:"contributors"`
	Accumulator  ReputationRecord `json:"accumulator"`
	StartedAt    time.Duration    `json:"started_at"`
}

// NodeState is an inspection snapshot of one node.
type NodeState struct {
	ID             PeerID                      `json:"id"`
	Population     string                      `json:"population"`
	Kindness       float64                     `json:"kindness"`
	ShareRate      float64                     `json:"required_share_rate"`
	Neighbors      []Neighbor                  `json:"neighbors"`
	PendingRequest *PeerID                     `json:"pending_request,omitempty"`
	PendingServe   *PendingServeState          `json:"pending_serve,omitempty"`
	Reputation     map[PeerID]ReputationRecord `json:"reputation"`
	Stats          NodeStats                   `json:"stats"`
	Stopped        bool                        `json:"stopped"`
}

// ─── Run Reports ────────────────────────────────────────────────────────────

// RunStatus tracks the lifecycle of a simulation run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunCancelled RunStatus = "CANCELLED"
)

// NodeReport is the per-node part of a run report.
type NodeReport struct {
	ID         PeerID                      `json:"id"`
	Population string                      `json:"population"`
	Kindness   float64                     `json:"kindness"`
	ShareRate  float64                     `json:"required_share_rate"`
	Degree     int                         `json:"degree"`
	Stats      NodeStats                   `json:"stats"`
	Reputation map[PeerID]ReputationRecord `json:"reputation,omitempty"`
}

// RunReport summarises one simulation run.
type RunReport struct {
	ID        string        `json:"id"`
	Status    RunStatus     `json:"status"`
	Seed      uint64        `json:"seed"`
	Topology  string        `json:"topology"`
	Nodes     int           `json:"nodes"`
	Duration  time.Duration `json:"duration"` // simulated time
	Events    int64         `json:"events"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Config    string        `json:"config,omitempty"` // effective TOML
	PerNode   []NodeReport  `json:"per_node,omitempty"`
}

// Totals sums the per-node stats.
func (r RunReport) Totals() NodeStats {
	t := NewNodeStats()
	for _, n := range r.PerNode {
		s := n.Stats
		t.RequestsSent += s.RequestsSent
		t.RequestsFulfilled += s.RequestsFulfilled
		t.RequestsTimedOut += s.RequestsTimedOut
		t.DownloadsSkipped += s.DownloadsSkipped
		t.Negotiations += s.Negotiations
		t.Served += s.Served
		t.Refused += s.Refused
		t.BusyDrops += s.BusyDrops
		t.OpinionsUsed += s.OpinionsUsed
		for k, v := range s.Sent {
			t.Sent[k] += v
		}
		for k, v := range s.Received {
			t.Received[k] += v
		}
		for k, v := range s.Dropped {
			t.Dropped[k] += v
		}
	}
	return t
}
