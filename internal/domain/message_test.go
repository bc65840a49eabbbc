package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Kind ───────────────────────────────────────────────────────────────────

func TestKind_String(t *testing.T) {
	tests := []struct {
		in   Kind
		want string
	}{
		{KindFileRequest, "file_request"},
		{KindFileResponse, "file_response"},
		{KindReputationRequest, "reputation_request"},
		{KindReputationResponse, "reputation_response"},
		{Kind(0), "unknown"},
		{Kind(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.String())
	}
}

func TestKinds_AllValid(t *testing.T) {
	require.Len(t, Kinds, 4)
	for _, k := range Kinds {
		assert.True(t, k.Valid(), "kind %s", k)
	}
	assert.False(t, Kind(0).Valid())
	assert.False(t, Kind(5).Valid())
}

// ─── Constructors ───────────────────────────────────────────────────────────

func TestNewReputationResponse_CarriesRecord(t *testing.T) {
	rec := ReputationRecord{Accepted: 4, Total: 5}
	m := NewReputationResponse(2, 1, 0, 3, 7, rec)

	assert.Equal(t, KindReputationResponse, m.Kind)
	assert.Equal(t, PeerID(2), m.Source)
	assert.Equal(t, PeerID(1), m.Destination)
	assert.Equal(t, PeerID(0), m.Target)
	assert.Equal(t, 3, m.TTL)
	assert.Equal(t, uint64(7), m.Nonce)
	assert.Equal(t, 4, m.Accepted)
	assert.Equal(t, 5, m.Total)
}

func TestMessage_Relayed(t *testing.T) {
	m := NewReputationRequest(1, 0, 3, 9)
	r := m.Relayed()

	assert.Equal(t, 2, r.TTL)
	assert.Equal(t, 3, m.TTL, "receiver must not change")
	assert.Equal(t, m.Nonce, r.Nonce)
	assert.Equal(t, m.Target, r.Target)
}

func TestMessage_Validate(t *testing.T) {
	require.NoError(t, NewFileRequest(0, 1, 3).Validate())

	err := Message{Kind: 99}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestMessage_String(t *testing.T) {
	assert.Equal(t, "file_request{peer-0->peer-1 ttl=3}", NewFileRequest(0, 1, 3).String())
	assert.Contains(t, NewReputationRequest(1, 0, 2, 5).String(), "target=peer-0")
}

// ─── Reputation Record ──────────────────────────────────────────────────────

func TestReputationRecord_Ratio(t *testing.T) {
	_, ok := ReputationRecord{}.Ratio()
	assert.False(t, ok, "zero total has undefined ratio")

	r, ok := ReputationRecord{Accepted: 4, Total: 5}.Ratio()
	require.True(t, ok)
	assert.InDelta(t, 0.8, r, 1e-12)
}

func TestReputationRecord_Merge(t *testing.T) {
	rec := ReputationRecord{Accepted: 1, Total: 2}
	rec.Merge(3, 4)
	assert.Equal(t, 4, rec.Accepted)
	assert.Equal(t, 6, rec.Total)
	assert.Equal(t, "(4/6)", rec.String())
}

func TestReputationRecord_FreshAt(t *testing.T) {
	assert.True(t, ReputationRecord{}.FreshAt(1<<40), "zero ValidUntil never expires")

	rec := ReputationRecord{ValidUntil: 10}
	assert.True(t, rec.FreshAt(10))
	assert.False(t, rec.FreshAt(11))
}

// ─── Errors ─────────────────────────────────────────────────────────────────

func TestDropReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNoNeighbors, "no_neighbors"},
		{ErrBusyServing, "busy_serving"},
		{fmt.Errorf("relay: %w", ErrExpiredHop), "expired_hop"},
		{ErrStaleResponse, "stale_response"},
		{ErrDuplicateVote, "duplicate_vote"},
		{ErrSelfTarget, "self_target"},
		{ErrOwnEcho, "own_echo"},
		{ErrUnmatchedReply, "unmatched_reply"},
		{ErrUnknownKind, "unknown_kind"},
		{fmt.Errorf("%w: 4", ErrUnknownLink), "unknown_link"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DropReason(tt.err), tt.err.Error())
	}
}

func TestRunReport_Totals(t *testing.T) {
	a := NewNodeStats()
	a.Served = 2
	a.Negotiations = 4
	a.Sent["file_request"] = 3
	b := NewNodeStats()
	b.Served = 1
	b.Negotiations = 1
	b.Sent["file_request"] = 1
	b.Dropped["expired_hop"] = 5

	tot := RunReport{PerNode: []NodeReport{{Stats: a}, {Stats: b}}}.Totals()
	assert.Equal(t, int64(3), tot.Served)
	assert.Equal(t, int64(5), tot.Negotiations)
	assert.Equal(t, int64(4), tot.Sent["file_request"])
	assert.Equal(t, int64(5), tot.Dropped["expired_hop"])
	assert.InDelta(t, 0.6, tot.ServeRate(), 1e-12)
}
