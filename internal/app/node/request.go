package node

import (
	"go.uber.org/zap"

	"github.com/nofree-network/nofree/internal/domain"
	"github.com/nofree-network/nofree/internal/infra/metrics"
)

// ─── Download Timer ─────────────────────────────────────────────────────────

func (n *Node) scheduleDownload() {
	n.downloadTimer = n.host.ScheduleAfter(draw(n.cfg.DownloadInterval, n.host), n.onDownloadTimer)
}

// onDownloadTimer asks one uniformly chosen neighbor for a file. The timer is
// rescheduled whether or not a request could be sent.
func (n *Node) onDownloadTimer() {
	n.downloadTimer = nil
	if n.stopped {
		return
	}

	neighbors := n.host.Neighbors()
	if len(neighbors) == 0 {
		n.stats.DownloadsSkipped++
		n.drop(domain.ErrNoNeighbors, domain.Message{})
		n.scheduleDownload()
		return
	}

	// A new request supersedes one still outstanding; the old one is settled
	// as if its timeout had fired now.
	if old := n.pendingRequest; old != nil {
		old.timer.Stop()
		n.expireRequest(old)
	}

	nb := neighbors[n.host.IntN(len(neighbors))]
	n.send(nb.Link, domain.NewFileRequest(n.cfg.ID, nb.Peer, n.originTTL()))
	now := n.host.Now()
	rec := n.table.RecordRequestSent(nb.Peer, now, n.validity())

	pr := &pendingRequest{target: nb.Peer, link: nb.Link, sentAt: now}
	pr.timer = n.host.ScheduleAfter(draw(n.cfg.FileRequestTimeout, n.host), func() {
		n.onFileRequestTimeout(pr)
	})
	n.pendingRequest = pr
	n.stats.RequestsSent++
	metrics.FileRequests.WithLabelValues("sent").Inc()

	n.log.Debug("file request sent",
		zap.Stringer("target", nb.Peer),
		zap.Int("link", nb.Link),
		zap.Stringer("record", rec),
		zap.Duration("at", now))

	n.scheduleDownload()
}

// ─── File Request Timeout ───────────────────────────────────────────────────

func (n *Node) onFileRequestTimeout(pr *pendingRequest) {
	if n.stopped || n.pendingRequest != pr {
		return
	}
	n.expireRequest(pr)
}

// expireRequest settles an unanswered request. Without the penalty policy the
// pre-credit stands: the missing reward is the only consequence.
func (n *Node) expireRequest(pr *pendingRequest) {
	n.pendingRequest = nil
	n.stats.RequestsTimedOut++
	metrics.FileRequests.WithLabelValues("timed_out").Inc()

	fields := []zap.Field{zap.Stringer("target", pr.target), zap.Duration("sent_at", pr.sentAt)}
	if n.cfg.FailedRequestPenalty {
		rec := n.table.RecordRequestFailed(pr.target, n.host.Now(), n.validity())
		fields = append(fields, zap.Stringer("record", rec))
	}
	n.log.Debug("file request timed out", fields...)
}

// ─── Inbound ────────────────────────────────────────────────────────────────

func (n *Node) handleFileResponse(msg domain.Message) {
	pr := n.pendingRequest
	if pr == nil || msg.Source != pr.target {
		n.drop(domain.ErrUnmatchedReply, msg)
		return
	}
	pr.timer.Stop()
	n.pendingRequest = nil

	now := n.host.Now()
	rec := n.table.RecordRequestFulfilled(pr.target, now, n.validity())
	n.stats.RequestsFulfilled++
	metrics.FileRequests.WithLabelValues("fulfilled").Inc()

	n.log.Debug("file received",
		zap.Stringer("from", msg.Source),
		zap.Stringer("record", rec),
		zap.Duration("latency", now-pr.sentAt))
}

func (n *Node) handleFileRequest(link int, msg domain.Message) {
	if n.pendingServe != nil {
		n.stats.BusyDrops++
		n.drop(domain.ErrBusyServing, msg)
		return
	}
	n.startNegotiation(msg.Source, link)
}
