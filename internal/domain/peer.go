// Package domain holds peer identity, reputation records and protocol messages.
// A ReputationRecord is one node's private opinion about another peer.
package domain

import (
	"fmt"
	"strconv"
	"time"
)

// PeerID identifies a node for the duration of a run.
type PeerID int

// String returns the peer id as "peer-N".
func (p PeerID) String() string {
	return "peer-" + strconv.Itoa(int(p))
}

// ReputationRecord counts how often a peer fulfilled the requests sent to it.
// Accepted is not clamped to Total: it is an opinion score, not an audited fact.
type ReputationRecord struct {
	Accepted   int           `json:"accepted"`
	Total      int           `json:"total"`
	LastUpdate time.Duration `json:"last_update"`
	ValidUntil time.Duration `json:"valid_until,omitempty"` // 0 = never expires
}

// Ratio returns Accepted/Total. ok is false when Total is zero (unknown peer).
func (r ReputationRecord) Ratio() (ratio float64, ok bool) {
	if r.Total == 0 {
		return 0, false
	}
	return float64(r.Accepted) / float64(r.Total), true
}

// IsNew reports whether no request outcome has been observed yet.
func (r ReputationRecord) IsNew() bool {
	return r.Total == 0
}

// Merge adds another opinion's counters into r.
func (r *ReputationRecord) Merge(accepted, total int) {
	r.Accepted += accepted
	r.Total += total
}

// FreshAt reports whether the record may still be reported to third parties.
func (r ReputationRecord) FreshAt(now time.Duration) bool {
	return r.ValidUntil == 0 || now <= r.ValidUntil
}

// String renders the record as "(accepted/total)".
func (r ReputationRecord) String() string {
	return fmt.Sprintf("(%d/%d)", r.Accepted, r.Total)
}
