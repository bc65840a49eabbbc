package node

import (
	"go.uber.org/zap"

	"github.com/nofree-network/nofree/internal/domain"
	"github.com/nofree-network/nofree/internal/infra/metrics"
)

// NoLink marks the absence of an arrival link in FloodTargets.
const NoLink = -1

// FloodTargets returns the neighbors a flood message about target is copied
// to: every neighbor except the one on the arrival link and except target
// itself, since a peer is never asked to rate itself.
func FloodTargets(neighbors []domain.Neighbor, arrival int, target domain.PeerID) []domain.Neighbor {
	out := make([]domain.Neighbor, 0, len(neighbors))
	for _, nb := range neighbors {
		if nb.Link == arrival || nb.Peer == target {
			continue
		}
		out = append(out, nb)
	}
	return out
}

// ResponseTargets returns where an in-transit reputation response is relayed:
// straight to the destination when it is a direct neighbor, otherwise to
// every neighbor except the arrival link.
func ResponseTargets(neighbors []domain.Neighbor, arrival int, dst domain.PeerID) []domain.Neighbor {
	for _, nb := range neighbors {
		if nb.Peer == dst && nb.Link != arrival {
			return []domain.Neighbor{nb}
		}
	}
	out := make([]domain.Neighbor, 0, len(neighbors))
	for _, nb := range neighbors {
		if nb.Link != arrival {
			out = append(out, nb)
		}
	}
	return out
}

// ─── Negotiation ────────────────────────────────────────────────────────────

// startNegotiation opens the single negotiation this node may hold: seed the
// accumulator from the local table, arm the window, and flood the query.
func (n *Node) startNegotiation(requester domain.PeerID, replyLink int) {
	n.nonce++
	now := n.host.Now()

	var acc domain.ReputationRecord
	if rec, ok := n.table.Snapshot(requester); ok {
		acc = domain.ReputationRecord{Accepted: rec.Accepted, Total: rec.Total}
	}

	neg := &negotiation{
		requester:    requester,
		replyLink:    replyLink,
		nonce:        n.nonce,
		contributors: make(map[domain.PeerID]struct{}),
		acc:          acc,
		startedAt:    now,
	}
	neg.timer = n.host.ScheduleAfter(draw(n.cfg.ReputationRequestTimeout, n.host), func() {
		n.onNegotiationTimeout(neg)
	})
	n.pendingServe = neg
	n.stats.Negotiations++
	metrics.NegotiationsActive.Inc()

	req := domain.NewReputationRequest(n.cfg.ID, requester, n.originTTL(), neg.nonce)
	targets := FloodTargets(n.host.Neighbors(), replyLink, requester)
	for _, nb := range targets {
		n.send(nb.Link, req)
	}

	n.log.Debug("negotiation started",
		zap.Stringer("requester", requester),
		zap.Uint64("nonce", neg.nonce),
		zap.Stringer("seed", acc),
		zap.Int("fanout", len(targets)),
		zap.Duration("at", now))
}

// ─── Reputation Request ─────────────────────────────────────────────────────

// handleReputationRequest answers from the local table when it holds a fresh
// opinion of the target, and independently relays the query onward.
func (n *Node) handleReputationRequest(link int, msg domain.Message) {
	switch {
	case msg.Target == n.cfg.ID:
		n.drop(domain.ErrSelfTarget, msg)
		return
	case msg.Source == n.cfg.ID:
		n.drop(domain.ErrOwnEcho, msg)
		return
	}

	if rec, ok := n.table.Fresh(msg.Target, n.host.Now()); ok {
		reply := domain.NewReputationResponse(n.cfg.ID, msg.Source, msg.Target, n.originTTL(), msg.Nonce, rec)
		n.send(link, reply)
	}

	n.relay(msg, FloodTargets(n.host.Neighbors(), link, msg.Target))
}

// ─── Reputation Response ────────────────────────────────────────────────────

// handleReputationResponse merges an opinion addressed to this node's open
// negotiation at most once per contributor; responses for other nodes are
// relayed toward their destination.
func (n *Node) handleReputationResponse(link int, msg domain.Message) {
	if msg.Destination != n.cfg.ID {
		n.relay(msg, ResponseTargets(n.host.Neighbors(), link, msg.Destination))
		return
	}

	neg := n.pendingServe
	if neg == nil || neg.requester != msg.Target || neg.nonce != msg.Nonce || msg.Source == n.cfg.ID {
		n.drop(domain.ErrStaleResponse, msg)
		return
	}
	if _, dup := neg.contributors[msg.Source]; dup {
		n.drop(domain.ErrDuplicateVote, msg)
		return
	}

	neg.acc.Merge(msg.Accepted, msg.Total)
	neg.contributors[msg.Source] = struct{}{}
	n.stats.OpinionsUsed++

	n.log.Debug("opinion merged",
		zap.Stringer("from", msg.Source),
		zap.Stringer("about", msg.Target),
		zap.Int("accepted", msg.Accepted),
		zap.Int("total", msg.Total),
		zap.Stringer("acc", neg.acc))
}

// ─── Relay ──────────────────────────────────────────────────────────────────

// relay forwards msg with one hop consumed, or drops it when the hop budget
// would go below zero.
func (n *Node) relay(msg domain.Message, targets []domain.Neighbor) {
	next := msg.Relayed()
	if next.TTL < 0 {
		n.drop(domain.ErrExpiredHop, msg)
		return
	}
	kind := msg.Kind.String()
	for _, nb := range targets {
		if n.send(nb.Link, next) {
			metrics.MessagesRelayed.WithLabelValues(kind).Inc()
		}
	}
}
