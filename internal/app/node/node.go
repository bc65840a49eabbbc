// Package node implements the per-node NoFree protocol engine.
//
// A Node reacts to two kinds of input, both delivered by its host one at a
// time: timer expiries it scheduled itself, and messages arriving on overlay
// links. It never blocks; every wait is a scheduled timer.
//
// Three sub-protocols share the node state:
//   - request/response: periodically ask a random neighbor for a file and
//     reward it in the reputation table when it answers in time
//   - reputation flood: on an inbound file request, flood a TTL-bounded
//     query for opinions about the requester and aggregate the answers
//   - serve decision: when the negotiation window closes, combine the
//     aggregated ratio with the kindness gate and maybe serve
package node

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nofree-network/nofree/internal/app/reputation"
	"github.com/nofree-network/nofree/internal/domain"
	"github.com/nofree-network/nofree/internal/infra/metrics"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config holds the per-node protocol parameters.
type Config struct {
	ID         domain.PeerID
	Population string // group label, reporting only

	RequiredShareRate float64 // [0,1] minimum accepted/total to be eligible
	Kindness          float64 // [0,1] probability of serving an eligible requester
	TTL               int     // hop budget of every message this node originates

	DownloadInterval         domain.Distribution // nil disables outbound requests
	ReputationValidity       domain.Distribution // nil or zero: records never expire
	ReputationRequestTimeout domain.Distribution // negotiation window
	FileRequestTimeout       domain.Distribution

	// FailedRequestPenalty takes back the optimistic pre-credit when a file
	// request times out. Off by default.
	FailedRequestPenalty bool
}

// Policy returns the serve-decision parameters.
func (c Config) Policy() Policy {
	return Policy{RequiredShareRate: c.RequiredShareRate, Kindness: c.Kindness}
}

// ─── Node ───────────────────────────────────────────────────────────────────

type pendingRequest struct {
	target domain.PeerID
	link   int
	sentAt time.Duration
	timer  domain.Timer
}

type negotiation struct {
	requester    domain.PeerID
	replyLink    int
	nonce        uint64
	contributors map[domain.PeerID]struct{}
	acc          domain.ReputationRecord
	startedAt    time.Duration
	timer        domain.Timer
}

// Node is one peer's protocol state. It is not safe for concurrent use; the
// host must deliver events one at a time.
type Node struct {
	cfg   Config
	host  domain.Host
	log   *zap.Logger
	table *reputation.Table

	downloadTimer  domain.Timer
	pendingRequest *pendingRequest
	pendingServe   *negotiation
	nonce          uint64

	stats   domain.NodeStats
	stopped bool
}

// New creates a node bound to host. Call Start to begin issuing requests.
func New(cfg Config, host domain.Host, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{
		cfg:   cfg,
		host:  host,
		log:   log.With(zap.Int("node", int(cfg.ID))),
		table: reputation.NewTable(),
		stats: domain.NewNodeStats(),
	}
}

// ID returns the node's peer id.
func (n *Node) ID() domain.PeerID { return n.cfg.ID }

// Config returns the node's parameters.
func (n *Node) Config() Config { return n.cfg }

// Table exposes the node's reputation table.
func (n *Node) Table() *reputation.Table { return n.table }

// Busy reports whether a negotiation is open.
func (n *Node) Busy() bool { return n.pendingServe != nil }

// PendingRequest returns the target of the outstanding file request, if any.
func (n *Node) PendingRequest() (domain.PeerID, bool) {
	if n.pendingRequest == nil {
		return 0, false
	}
	return n.pendingRequest.target, true
}

// Stats returns a copy of the node's counters.
func (n *Node) Stats() domain.NodeStats { return n.stats.Clone() }

// Start schedules the first download. A node without a download interval
// only serves.
func (n *Node) Start() {
	if n.stopped || n.cfg.DownloadInterval == nil {
		return
	}
	n.scheduleDownload()
	n.log.Debug("node started", zap.Int("neighbors", len(n.host.Neighbors())))
}

// Stop cancels every pending timer. A stopped node ignores further events.
func (n *Node) Stop() {
	if n.stopped {
		return
	}
	n.stopped = true
	if n.downloadTimer != nil {
		n.downloadTimer.Stop()
		n.downloadTimer = nil
	}
	if pr := n.pendingRequest; pr != nil {
		pr.timer.Stop()
		n.pendingRequest = nil
	}
	if neg := n.pendingServe; neg != nil {
		neg.timer.Stop()
		n.pendingServe = nil
		metrics.NegotiationsActive.Dec()
	}
	n.log.Debug("node stopped")
}

// HandleMessage is the single dispatch point for inbound messages. link is
// the local index of the link the message arrived on. Protocol conditions
// are absorbed; only structurally invalid messages return an error.
func (n *Node) HandleMessage(link int, msg domain.Message) error {
	if err := msg.Validate(); err != nil {
		n.drop(err, msg)
		return err
	}
	if n.stopped {
		n.drop(domain.ErrNodeStopped, msg)
		return nil
	}
	n.stats.Received[msg.Kind.String()]++
	if msg.TTL < 0 {
		n.drop(domain.ErrExpiredHop, msg)
		return nil
	}

	switch msg.Kind {
	case domain.KindFileRequest:
		n.handleFileRequest(link, msg)
	case domain.KindFileResponse:
		n.handleFileResponse(msg)
	case domain.KindReputationRequest:
		n.handleReputationRequest(link, msg)
	case domain.KindReputationResponse:
		n.handleReputationResponse(link, msg)
	}
	return nil
}

// Snapshot returns an inspection copy of the node state.
func (n *Node) Snapshot() domain.NodeState {
	st := domain.NodeState{
		ID:         n.cfg.ID,
		Population: n.cfg.Population,
		Kindness:   n.cfg.Kindness,
		ShareRate:  n.cfg.RequiredShareRate,
		Neighbors:  append([]domain.Neighbor(nil), n.host.Neighbors()...),
		Reputation: n.table.All(),
		Stats:      n.stats.Clone(),
		Stopped:    n.stopped,
	}
	if pr := n.pendingRequest; pr != nil {
		target := pr.target
		st.PendingRequest = &target
	}
	if neg := n.pendingServe; neg != nil {
		contributors := make([]domain.PeerID, 0, len(neg.contributors))
		for p := range neg.contributors {
			contributors = append(contributors, p)
		}
		sort.Slice(contributors, func(i, j int) bool { return contributors[i] < contributors[j] })
		st.PendingServe = &domain.PendingServeState{
			Requester:    neg.requester,
			ReplyLink:    neg.replyLink,
			Nonce:        neg.nonce,
			Contributors: contributors,
			Accumulator:  neg.acc,
			StartedAt:    neg.startedAt,
		}
	}
	return st
}

// ─── Internal ───────────────────────────────────────────────────────────────

// originTTL is the hop budget left after the first traversal: a message
// stamped with it crosses at most cfg.TTL links in total.
func (n *Node) originTTL() int {
	return n.cfg.TTL - 1
}

func (n *Node) send(link int, msg domain.Message) bool {
	if err := n.host.Send(link, msg); err != nil {
		n.log.Warn("send failed", zap.Int("link", link), zap.Stringer("msg", msg), zap.Error(err))
		n.drop(err, msg)
		return false
	}
	kind := msg.Kind.String()
	n.stats.Sent[kind]++
	metrics.MessagesSent.WithLabelValues(kind).Inc()
	return true
}

func (n *Node) drop(reason error, msg domain.Message) {
	label := domain.DropReason(reason)
	n.stats.Dropped[label]++
	metrics.MessagesDropped.WithLabelValues(label).Inc()
	if ce := n.log.Check(zap.DebugLevel, "dropped"); ce != nil {
		ce.Write(zap.String("reason", label), zap.Stringer("msg", msg), zap.Duration("at", n.host.Now()))
	}
}

func (n *Node) validity() time.Duration {
	return draw(n.cfg.ReputationValidity, n.host)
}

func draw(d domain.Distribution, r domain.Random) time.Duration {
	if d == nil {
		return 0
	}
	if v := d.Sample(r); v > 0 {
		return v
	}
	return 0
}
