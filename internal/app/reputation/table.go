// Package reputation implements a node's private reputation table.
//
// Each entry counts the file requests this node sent to a peer (Total) and
// how many of them were honoured (Accepted). Entries are created lazily on
// first reference and never removed; only their counters change.
package reputation

import (
	"sort"
	"time"

	"github.com/nofree-network/nofree/internal/domain"
)

// Table maps peers to this node's opinion of them. Not safe for concurrent
// use: a table is owned by exactly one node.
type Table struct {
	records map[domain.PeerID]*domain.ReputationRecord
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{records: make(map[domain.PeerID]*domain.ReputationRecord)}
}

// RecordRequestSent pre-credits peer: Total and Accepted both go up by one,
// assuming good faith until the request is known to have failed.
func (t *Table) RecordRequestSent(peer domain.PeerID, now, validFor time.Duration) domain.ReputationRecord {
	rec := t.entry(peer)
	rec.Total++
	rec.Accepted++
	touch(rec, now, validFor)
	return *rec
}

// RecordRequestFulfilled credits peer for a file response that arrived in time.
func (t *Table) RecordRequestFulfilled(peer domain.PeerID, now, validFor time.Duration) domain.ReputationRecord {
	rec := t.entry(peer)
	rec.Accepted++
	touch(rec, now, validFor)
	return *rec
}

// RecordRequestFailed takes back the pre-credit of an unanswered request.
// Only used when the failed-request penalty policy is enabled.
func (t *Table) RecordRequestFailed(peer domain.PeerID, now, validFor time.Duration) domain.ReputationRecord {
	rec := t.entry(peer)
	rec.Accepted--
	touch(rec, now, validFor)
	return *rec
}

// Snapshot returns the record for peer. ok is false if the peer is unknown.
func (t *Table) Snapshot(peer domain.PeerID) (domain.ReputationRecord, bool) {
	rec, ok := t.records[peer]
	if !ok {
		return domain.ReputationRecord{}, false
	}
	return *rec, true
}

// Fresh returns the record for peer only if it is still inside its validity
// window at now. Expired records stay in the table.
func (t *Table) Fresh(peer domain.PeerID, now time.Duration) (domain.ReputationRecord, bool) {
	rec, ok := t.Snapshot(peer)
	if !ok || !rec.FreshAt(now) {
		return domain.ReputationRecord{}, false
	}
	return rec, true
}

// Len returns the number of known peers.
func (t *Table) Len() int {
	return len(t.records)
}

// Peers returns the known peers in ascending order.
func (t *Table) Peers() []domain.PeerID {
	out := make([]domain.PeerID, 0, len(t.records))
	for p := range t.records {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// All returns a copy of every record.
func (t *Table) All() map[domain.PeerID]domain.ReputationRecord {
	out := make(map[domain.PeerID]domain.ReputationRecord, len(t.records))
	for p, rec := range t.records {
		out[p] = *rec
	}
	return out
}

// ─── Internal ───────────────────────────────────────────────────────────────

func (t *Table) entry(peer domain.PeerID) *domain.ReputationRecord {
	rec, ok := t.records[peer]
	if !ok {
		rec = &domain.ReputationRecord{}
		t.records[peer] = rec
	}
	return rec
}

// touch stamps the update time. validFor <= 0 means the record never expires.
func touch(rec *domain.ReputationRecord, now, validFor time.Duration) {
	rec.LastUpdate = now
	if validFor > 0 {
		rec.ValidUntil = now + validFor
	} else {
		rec.ValidUntil = 0
	}
}
