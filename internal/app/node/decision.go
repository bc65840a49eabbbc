package node

import (
	"go.uber.org/zap"

	"github.com/nofree-network/nofree/internal/domain"
	"github.com/nofree-network/nofree/internal/infra/metrics"
)

// ─── Serve Decision Policy ──────────────────────────────────────────────────

// Policy holds the configured decision thresholds.
type Policy struct {
	RequiredShareRate float64
	Kindness          float64
}

// Decision records how a serve decision was reached.
type Decision struct {
	Ratio       float64 // meaningful only when !IsNewPeer
	IsNewPeer   bool
	IsGoodRatio bool
	Eligible    bool
	Sample      float64
	GatePasses  bool
	Serve       bool
}

// Outcome labels the decision for metrics: served, refused_ratio or
// refused_kindness.
func (d Decision) Outcome() string {
	switch {
	case d.Serve:
		return "served"
	case !d.Eligible:
		return "refused_ratio"
	default:
		return "refused_kindness"
	}
}

// Decide evaluates an aggregated record. A requester nobody has history with
// (Total == 0) is treated as new and is eligible regardless of the share
// rate. The kindness gate passes when sample < Kindness, so a kinder node
// serves more often independent of the requester's merit.
func Decide(acc domain.ReputationRecord, p Policy, sample float64) Decision {
	d := Decision{Sample: sample}
	if ratio, ok := acc.Ratio(); ok {
		d.Ratio = ratio
		d.IsGoodRatio = ratio >= p.RequiredShareRate
	} else {
		d.IsNewPeer = true
	}
	d.Eligible = d.IsNewPeer || d.IsGoodRatio
	d.GatePasses = sample < p.Kindness
	d.Serve = d.Eligible && d.GatePasses
	return d
}

// onNegotiationTimeout closes the negotiation window. The window always ends
// on this timer, never early. PendingServe is cleared whatever the outcome.
func (n *Node) onNegotiationTimeout(neg *negotiation) {
	if n.stopped || n.pendingServe != neg {
		return
	}

	d := Decide(neg.acc, n.cfg.Policy(), n.host.Float64())
	if d.Serve {
		n.send(neg.replyLink, domain.NewFileResponse(n.cfg.ID, neg.requester, n.originTTL()))
		n.stats.Served++
	} else {
		n.stats.Refused++
	}

	n.pendingServe = nil
	metrics.NegotiationsActive.Dec()
	metrics.ServeDecisions.WithLabelValues(d.Outcome()).Inc()
	metrics.NegotiationOpinions.Observe(float64(len(neg.contributors)))
	if !d.IsNewPeer {
		metrics.RequesterRatio.Observe(d.Ratio)
	}

	n.log.Debug("serve decision",
		zap.Stringer("requester", neg.requester),
		zap.String("outcome", d.Outcome()),
		zap.Stringer("acc", neg.acc),
		zap.Int("opinions", len(neg.contributors)),
		zap.Float64("sample", d.Sample),
		zap.Duration("window", n.host.Now()-neg.startedAt))
}
