package node

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nofree-network/nofree/internal/domain"
)

func testConfig(id domain.PeerID) Config {
	return Config{
		ID:                       id,
		RequiredShareRate:        0.8,
		Kindness:                 0.9,
		TTL:                      3,
		ReputationRequestTimeout: fixed(2 * time.Second),
		FileRequestTimeout:       fixed(5 * time.Second),
	}
}

func newTestNode(t *testing.T, cfg Config, h *fakeHost) *Node {
	t.Helper()
	return New(cfg, h, nil)
}

// ─── Request / Response ─────────────────────────────────────────────────────

func TestDownload_NoNeighborsReschedules(t *testing.T) {
	h := newFakeHost()
	cfg := testConfig(0)
	cfg.DownloadInterval = fixed(10 * time.Second)
	n := newTestNode(t, cfg, h)
	n.Start()

	require.True(t, h.fireNext())
	assert.Empty(t, h.sent)
	assert.Equal(t, int64(1), n.Stats().DownloadsSkipped)
	assert.Equal(t, int64(1), n.Stats().Dropped["no_neighbors"])

	p := h.pending()
	require.Len(t, p, 1, "download timer must be rescheduled")
	assert.Equal(t, 20*time.Second, p[0].at)
}

func TestDownload_SendsRequestAndPreCredits(t *testing.T) {
	h := newFakeHost(mesh(1, 2, 3)...)
	h.ints = []int{1}
	cfg := testConfig(0)
	cfg.DownloadInterval = fixed(10 * time.Second)
	n := newTestNode(t, cfg, h)
	n.Start()

	require.True(t, h.fireNext())
	sent := h.takeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, 1, sent[0].link)
	assert.Equal(t, domain.NewFileRequest(0, 2, 2), sent[0].msg)

	rec, ok := n.Table().Snapshot(2)
	require.True(t, ok)
	assert.Equal(t, 1, rec.Accepted)
	assert.Equal(t, 1, rec.Total)

	target, ok := n.PendingRequest()
	require.True(t, ok)
	assert.Equal(t, domain.PeerID(2), target)

	p := h.pending()
	require.Len(t, p, 2, "file-request timeout and next download")
	assert.Equal(t, 15*time.Second, p[0].at)
	assert.Equal(t, 20*time.Second, p[1].at)
}

func TestFileRequestTimeout_NoPenaltyByDefault(t *testing.T) {
	h := newFakeHost(mesh(1)...)
	cfg := testConfig(0)
	cfg.DownloadInterval = fixed(10 * time.Second)
	n := newTestNode(t, cfg, h)
	n.Start()

	h.fireNext() // download at 10s
	h.fireNext() // timeout at 15s

	_, ok := n.PendingRequest()
	assert.False(t, ok)
	rec, _ := n.Table().Snapshot(1)
	assert.Equal(t, domain.ReputationRecord{Accepted: 1, Total: 1, LastUpdate: 10 * time.Second}, rec)
	assert.Equal(t, int64(1), n.Stats().RequestsTimedOut)
}

func TestFileRequestTimeout_PenaltyPolicy(t *testing.T) {
	h := newFakeHost(mesh(1)...)
	cfg := testConfig(0)
	cfg.DownloadInterval = fixed(10 * time.Second)
	cfg.FailedRequestPenalty = true
	n := newTestNode(t, cfg, h)
	n.Start()

	h.fireNext()
	h.fireNext()

	rec, _ := n.Table().Snapshot(1)
	assert.Equal(t, 0, rec.Accepted)
	assert.Equal(t, 1, rec.Total)
}

func TestFileResponse_Fulfilled(t *testing.T) {
	h := newFakeHost(mesh(1, 2)...)
	h.ints = []int{0}
	cfg := testConfig(0)
	cfg.DownloadInterval = fixed(10 * time.Second)
	n := newTestNode(t, cfg, h)
	n.Start()
	h.fireNext()
	h.takeSent()

	h.now = 12 * time.Second
	require.NoError(t, n.HandleMessage(0, domain.NewFileResponse(1, 0, 2)))

	rec, _ := n.Table().Snapshot(1)
	assert.Equal(t, 2, rec.Accepted)
	assert.Equal(t, 1, rec.Total)
	_, ok := n.PendingRequest()
	assert.False(t, ok)
	assert.Equal(t, int64(1), n.Stats().RequestsFulfilled)

	p := h.pending()
	require.Len(t, p, 1, "timeout must be cancelled")
	assert.Equal(t, 20*time.Second, p[0].at)
}

func TestFileResponse_UnmatchedDropped(t *testing.T) {
	h := newFakeHost(mesh(1, 2)...)
	cfg := testConfig(0)
	cfg.DownloadInterval = fixed(10 * time.Second)
	n := newTestNode(t, cfg, h)
	n.Start()
	h.fireNext() // request to peer 1

	require.NoError(t, n.HandleMessage(1, domain.NewFileResponse(2, 0, 2)))
	assert.Equal(t, int64(1), n.Stats().Dropped["unmatched_reply"])
	_, ok := n.PendingRequest()
	assert.True(t, ok, "pending request survives an unrelated response")

	_, known := n.Table().Snapshot(2)
	assert.False(t, known)
}

func TestDownload_SupersedesOutstandingRequest(t *testing.T) {
	h := newFakeHost(mesh(1, 2)...)
	h.ints = []int{0, 1}
	cfg := testConfig(0)
	cfg.DownloadInterval = fixed(time.Second) // shorter than the 5s timeout
	n := newTestNode(t, cfg, h)
	n.Start()

	h.fireNext() // 1s: request to peer 1
	h.fireNext() // 2s: request to peer 2, first one settled

	target, ok := n.PendingRequest()
	require.True(t, ok)
	assert.Equal(t, domain.PeerID(2), target)
	assert.Equal(t, int64(1), n.Stats().RequestsTimedOut)
	assert.Equal(t, int64(2), n.Stats().RequestsSent)
}

// ─── Negotiation ────────────────────────────────────────────────────────────

// Node 1 with neighbors A(0) on link 0, C(2) on link 1, D(3) on link 2.
func negotiatingNode(t *testing.T, cfg Config) (*Node, *fakeHost) {
	t.Helper()
	h := newFakeHost(mesh(0, 2, 3)...)
	return newTestNode(t, cfg, h), h
}

func TestFileRequest_StartsFlood(t *testing.T) {
	n, h := negotiatingNode(t, testConfig(1))

	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))
	assert.True(t, n.Busy())

	sent := h.takeSent()
	assert.Equal(t, []int{1, 2}, linksOf(sent), "arrival link excluded")
	for _, s := range sent {
		assert.Equal(t, domain.NewReputationRequest(1, 0, 2, 1), s.msg)
	}
	assert.Equal(t, int64(1), n.Stats().Negotiations)
}

func TestFileRequest_BusyDropsSilently(t *testing.T) {
	n, h := negotiatingNode(t, testConfig(1))
	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))
	h.takeSent()

	require.NoError(t, n.HandleMessage(1, domain.NewFileRequest(2, 1, 2)))
	assert.Empty(t, h.sent, "busy node sends nothing")
	assert.Equal(t, int64(1), n.Stats().BusyDrops)
	assert.Equal(t, domain.PeerID(0), n.Snapshot().PendingServe.Requester)
}

func TestNegotiation_MergesEachContributorOnce(t *testing.T) {
	n, h := negotiatingNode(t, testConfig(1))
	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))
	h.takeSent()

	vote := domain.NewReputationResponse(2, 1, 0, 2, 1, domain.ReputationRecord{Accepted: 4, Total: 5})
	require.NoError(t, n.HandleMessage(1, vote))
	require.NoError(t, n.HandleMessage(1, vote))

	ps := n.Snapshot().PendingServe
	require.NotNil(t, ps)
	assert.Equal(t, 4, ps.Accumulator.Accepted)
	assert.Equal(t, 5, ps.Accumulator.Total)
	assert.Equal(t, []domain.PeerID{2}, ps.Contributors)
	assert.Equal(t, int64(1), n.Stats().Dropped["duplicate_vote"])
}

func TestNegotiation_SeedsFromOwnTable(t *testing.T) {
	n, h := negotiatingNode(t, testConfig(1))
	n.Table().RecordRequestSent(0, 0, 0)
	n.Table().RecordRequestSent(0, 0, 0)

	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))
	h.takeSent()

	acc := n.Snapshot().PendingServe.Accumulator
	assert.Equal(t, 2, acc.Accepted)
	assert.Equal(t, 2, acc.Total)
}

func TestNegotiation_ServesGoodRatio(t *testing.T) {
	n, h := negotiatingNode(t, testConfig(1))
	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))
	require.NoError(t, n.HandleMessage(1,
		domain.NewReputationResponse(2, 1, 0, 2, 1, domain.ReputationRecord{Accepted: 4, Total: 5})))
	h.takeSent()

	h.floats = []float64{0.5}
	require.True(t, h.fireNext())

	sent := h.takeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, 0, sent[0].link, "file goes back over the arrival link")
	assert.Equal(t, domain.NewFileResponse(1, 0, 2), sent[0].msg)
	assert.False(t, n.Busy())
	assert.Equal(t, int64(1), n.Stats().Served)
	assert.Equal(t, 2*time.Second, h.now, "decision waits for the full window")
}

func TestNegotiation_RejectsBadRatio(t *testing.T) {
	cfg := testConfig(1)
	cfg.RequiredShareRate = 0.5
	n, h := negotiatingNode(t, cfg)
	for i := 0; i < 10; i++ {
		n.Table().RecordRequestSent(0, 0, 0)
	}
	for i := 0; i < 9; i++ {
		n.Table().RecordRequestFailed(0, 0, 0)
	}

	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))
	h.takeSent()
	h.floats = []float64{0.0}
	h.fireNext()

	assert.Empty(t, h.sent, "ratio 0.1 is never served")
	assert.False(t, n.Busy())
	assert.Equal(t, int64(1), n.Stats().Refused)
}

func TestNegotiation_KindnessGateRefuses(t *testing.T) {
	n, h := negotiatingNode(t, testConfig(1))
	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))
	h.takeSent()

	h.floats = []float64{0.95}
	h.fireNext()

	assert.Empty(t, h.sent)
	assert.False(t, n.Busy(), "pending serve cleared regardless of outcome")
}

func TestNegotiation_StaleResponseIgnoredAcrossEpisodes(t *testing.T) {
	n, h := negotiatingNode(t, testConfig(1))
	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))
	h.floats = []float64{0.99}
	h.fireNext() // first episode closes, nonce 1

	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))
	ps := n.Snapshot().PendingServe
	require.NotNil(t, ps)
	require.Equal(t, uint64(2), ps.Nonce)

	late := domain.NewReputationResponse(3, 1, 0, 2, 1, domain.ReputationRecord{Accepted: 0, Total: 9})
	require.NoError(t, n.HandleMessage(2, late))

	ps = n.Snapshot().PendingServe
	assert.Equal(t, 0, ps.Accumulator.Total, "late opinion must not leak into the new episode")
	assert.Empty(t, ps.Contributors)
	assert.Equal(t, int64(1), n.Stats().Dropped["stale_response"])
}

func TestNegotiation_ResponseWhileIdleIsStale(t *testing.T) {
	n, h := negotiatingNode(t, testConfig(1))
	resp := domain.NewReputationResponse(2, 1, 0, 2, 1, domain.ReputationRecord{Accepted: 1, Total: 1})
	require.NoError(t, n.HandleMessage(1, resp))

	assert.Empty(t, h.sent)
	assert.Equal(t, int64(1), n.Stats().Dropped["stale_response"])
}

// ─── Reputation Request Handling ────────────────────────────────────────────

// Node 2 with B(1) on link 0, A(0) on link 1, D(3) on link 2.
func relayNode(t *testing.T, cfg Config) (*Node, *fakeHost) {
	t.Helper()
	h := newFakeHost(mesh(1, 0, 3)...)
	return newTestNode(t, cfg, h), h
}

func TestReputationRequest_UnknownTargetOnlyRelays(t *testing.T) {
	n, h := relayNode(t, testConfig(2))

	require.NoError(t, n.HandleMessage(0, domain.NewReputationRequest(1, 0, 2, 7)))

	sent := h.takeSent()
	require.Len(t, sent, 1, "arrival link and target excluded")
	assert.Equal(t, 2, sent[0].link)
	assert.Equal(t, 1, sent[0].msg.TTL)
	assert.Equal(t, uint64(7), sent[0].msg.Nonce)
}

func TestReputationRequest_KnownTargetAnswersAndRelays(t *testing.T) {
	n, h := relayNode(t, testConfig(2))
	n.Table().RecordRequestSent(0, 0, 0)

	require.NoError(t, n.HandleMessage(0, domain.NewReputationRequest(1, 0, 2, 7)))

	sent := h.takeSent()
	require.Len(t, sent, 2)
	assert.Equal(t, 0, sent[0].link, "answer goes back toward the requester")
	want := domain.NewReputationResponse(2, 1, 0, 2, 7, domain.ReputationRecord{Accepted: 1, Total: 1})
	assert.Equal(t, want, sent[0].msg)
	assert.Equal(t, domain.KindReputationRequest, sent[1].msg.Kind)
}

func TestReputationRequest_HopBudgetExhausted(t *testing.T) {
	n, h := relayNode(t, testConfig(2))
	n.Table().RecordRequestSent(0, 0, 0)

	require.NoError(t, n.HandleMessage(0, domain.NewReputationRequest(1, 0, 0, 7)))

	sent := h.takeSent()
	assert.Equal(t, []domain.Kind{domain.KindReputationResponse}, kindsOf(sent), "answers but does not relay")
	assert.Equal(t, int64(1), n.Stats().Dropped["expired_hop"])
}

func TestReputationRequest_SelfTargetDropped(t *testing.T) {
	n, h := relayNode(t, testConfig(0))
	require.NoError(t, n.HandleMessage(0, domain.NewReputationRequest(1, 0, 2, 7)))
	assert.Empty(t, h.sent)
	assert.Equal(t, int64(1), n.Stats().Dropped["self_target"])
}

func TestReputationRequest_OwnEchoDropped(t *testing.T) {
	n, h := relayNode(t, testConfig(1))
	require.NoError(t, n.HandleMessage(2, domain.NewReputationRequest(1, 0, 2, 7)))
	assert.Empty(t, h.sent)
	assert.Equal(t, int64(1), n.Stats().Dropped["own_echo"])
}

func TestReputationRequest_ExpiredRecordNotReported(t *testing.T) {
	n, h := relayNode(t, testConfig(2))
	n.Table().RecordRequestSent(0, 0, 5*time.Second)
	h.now = 10 * time.Second

	require.NoError(t, n.HandleMessage(0, domain.NewReputationRequest(1, 0, 2, 7)))

	assert.Equal(t, []domain.Kind{domain.KindReputationRequest}, kindsOf(h.takeSent()))
	_, ok := n.Table().Snapshot(0)
	assert.True(t, ok, "expired record kept")
}

// ─── Reputation Response Relay ──────────────────────────────────────────────

func TestReputationResponse_RelayedToDirectNeighbor(t *testing.T) {
	n, h := relayNode(t, testConfig(2))
	resp := domain.NewReputationResponse(3, 0, 5, 2, 1, domain.ReputationRecord{Accepted: 1, Total: 1})

	require.NoError(t, n.HandleMessage(2, resp))

	sent := h.takeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, 1, sent[0].link)
	assert.Equal(t, 1, sent[0].msg.TTL)
	assert.Equal(t, domain.PeerID(0), sent[0].msg.Destination)
}

func TestReputationResponse_FloodedWhenDestinationFar(t *testing.T) {
	n, h := relayNode(t, testConfig(2))
	resp := domain.NewReputationResponse(3, 9, 5, 2, 1, domain.ReputationRecord{})

	require.NoError(t, n.HandleMessage(0, resp))
	assert.Equal(t, []int{1, 2}, linksOf(h.takeSent()))
}

func TestReputationResponse_ExpiredInTransit(t *testing.T) {
	n, h := relayNode(t, testConfig(2))
	resp := domain.NewReputationResponse(3, 9, 5, 0, 1, domain.ReputationRecord{})

	require.NoError(t, n.HandleMessage(0, resp))
	assert.Empty(t, h.sent)
	assert.Equal(t, int64(1), n.Stats().Dropped["expired_hop"])
}

// ─── Dispatch & Lifecycle ───────────────────────────────────────────────────

func TestHandleMessage_UnknownKind(t *testing.T) {
	n, _ := relayNode(t, testConfig(2))
	err := n.HandleMessage(0, domain.Message{Kind: 77})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownKind))
}

func TestHandleMessage_NegativeTTLDropped(t *testing.T) {
	n, h := relayNode(t, testConfig(2))
	msg := domain.NewFileRequest(1, 2, -1)
	require.NoError(t, n.HandleMessage(0, msg))
	assert.False(t, n.Busy())
	assert.Empty(t, h.sent)
	assert.Equal(t, int64(1), n.Stats().Dropped["expired_hop"])
}

func TestStop_CancelsTimers(t *testing.T) {
	h := newFakeHost(mesh(1, 2)...)
	cfg := testConfig(0)
	cfg.DownloadInterval = fixed(time.Second)
	n := newTestNode(t, cfg, h)
	n.Start()
	h.fireNext() // download + file timeout armed
	require.NoError(t, n.HandleMessage(1, domain.NewFileRequest(2, 0, 2)))
	require.NotEmpty(t, h.pending())
	h.takeSent()

	n.Stop()
	assert.Empty(t, h.pending())
	assert.False(t, n.Busy())

	require.NoError(t, n.HandleMessage(1, domain.NewFileRequest(2, 0, 2)))
	assert.Empty(t, h.sent)
	assert.True(t, n.Snapshot().Stopped)
}

func TestSend_FailureNotCounted(t *testing.T) {
	n, h := negotiatingNode(t, testConfig(1))
	h.sendErr = errors.New("link down")

	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))
	assert.Zero(t, n.Stats().Sent["reputation_request"])
	assert.True(t, n.Busy(), "negotiation still opens")
	assert.Equal(t, int64(2), n.Stats().Dropped["other"], "one per flood target")
}

func TestSend_UnknownLinkLabelled(t *testing.T) {
	n, h := negotiatingNode(t, testConfig(1))
	h.sendErr = fmt.Errorf("%w: 9", domain.ErrUnknownLink)

	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))
	assert.Equal(t, int64(2), n.Stats().Dropped["unknown_link"])
	assert.Zero(t, n.Stats().Dropped["other"])
}

func TestSnapshot(t *testing.T) {
	n, _ := negotiatingNode(t, testConfig(1))
	n.Table().RecordRequestSent(3, 0, 0)
	require.NoError(t, n.HandleMessage(0, domain.NewFileRequest(0, 1, 2)))

	st := n.Snapshot()
	assert.Equal(t, domain.PeerID(1), st.ID)
	assert.Len(t, st.Neighbors, 3)
	assert.Contains(t, st.Reputation, domain.PeerID(3))
	require.NotNil(t, st.PendingServe)
	assert.Equal(t, 0, st.PendingServe.ReplyLink)
	assert.Nil(t, st.PendingRequest)
}
