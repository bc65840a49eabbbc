package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure: no infrastructure dependency.

var (
	// Protocol conditions. All are absorbed by the node; they name the reason
	// on drop counters and in logs rather than propagating to the host.
	ErrNoNeighbors    = errors.New("download skipped: node has no neighbors")
	ErrBusyServing    = errors.New("file request dropped: already negotiating")
	ErrExpiredHop     = errors.New("message dropped: hop budget exhausted")
	ErrStaleResponse  = errors.New("reputation response dropped: no matching negotiation")
	ErrDuplicateVote  = errors.New("reputation response dropped: contributor already counted")
	ErrSelfTarget     = errors.New("reputation request dropped: node is the target")
	ErrOwnEcho        = errors.New("reputation request dropped: echo of own flood")
	ErrUnmatchedReply = errors.New("file response dropped: no matching request")
	ErrNodeStopped    = errors.New("node stopped")

	// Structural errors. Returned to the host.
	ErrUnknownKind = errors.New("unknown message kind")
	ErrUnknownLink = errors.New("unknown link")

	// Configuration errors
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrInvalidDistribution = errors.New("invalid time distribution")
	ErrUnknownTopology     = errors.New("unknown overlay topology")

	// Report storage errors
	ErrRunNotFound  = errors.New("run report not found")
	ErrNodeNotFound = errors.New("node not found")
)

// DropReason maps a protocol condition to the short label used in metrics.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrNoNeighbors):
		return "no_neighbors"
	case errors.Is(err, ErrBusyServing):
		return "busy_serving"
	case errors.Is(err, ErrExpiredHop):
		return "expired_hop"
	case errors.Is(err, ErrStaleResponse):
		return "stale_response"
	case errors.Is(err, ErrDuplicateVote):
		return "duplicate_vote"
	case errors.Is(err, ErrSelfTarget):
		return "self_target"
	case errors.Is(err, ErrOwnEcho):
		return "own_echo"
	case errors.Is(err, ErrUnmatchedReply):
		return "unmatched_reply"
	case errors.Is(err, ErrNodeStopped):
		return "node_stopped"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, ErrUnknownLink):
		return "unknown_link"
	default:
		return "other"
	}
}
