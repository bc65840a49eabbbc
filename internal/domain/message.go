package domain

import "fmt"

// ─── Message Kinds ──────────────────────────────────────────────────────────

// Kind tags a protocol message. The set is closed: exactly four kinds exist.
type Kind uint8

const (
	KindFileRequest Kind = iota + 1
	KindFileResponse
	KindReputationRequest
	KindReputationResponse
)

// Kinds lists every valid message kind in wire order.
var Kinds = []Kind{KindFileRequest, KindFileResponse, KindReputationRequest, KindReputationResponse}

// String returns the kind's label as used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindFileRequest:
		return "file_request"
	case KindFileResponse:
		return "file_response"
	case KindReputationRequest:
		return "reputation_request"
	case KindReputationResponse:
		return "reputation_response"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the four protocol kinds.
func (k Kind) Valid() bool {
	return k >= KindFileRequest && k <= KindReputationResponse
}

// ─── Message ────────────────────────────────────────────────────────────────

// Message is the tagged union of all protocol messages. The header fields are
// shared; Target is set for reputation kinds, Accepted/Total only for
// ReputationResponse.
type Message struct {
	Kind        Kind   `json:"kind"`
	Source      PeerID `json:"source"`
	Destination PeerID `json:"destination"`
	TTL         int    `json:"ttl"`
	Nonce       uint64 `json:"nonce,omitempty"` // negotiation episode, echoed by responses

	Target   PeerID `json:"target,omitempty"`
	Accepted int    `json:"accepted,omitempty"`
	Total    int    `json:"total,omitempty"`
}

// NewFileRequest asks dst to serve a file to src.
func NewFileRequest(src, dst PeerID, ttl int) Message {
	return Message{Kind: KindFileRequest, Source: src, Destination: dst, TTL: ttl}
}

// NewFileResponse carries the (simulated) file back to the requester.
func NewFileResponse(src, dst PeerID, ttl int) Message {
	return Message{Kind: KindFileResponse, Source: src, Destination: dst, TTL: ttl}
}

// NewReputationRequest asks the overlay for opinions about target.
func NewReputationRequest(src, target PeerID, ttl int, nonce uint64) Message {
	return Message{Kind: KindReputationRequest, Source: src, TTL: ttl, Target: target, Nonce: nonce}
}

// NewReputationResponse answers a ReputationRequest from dst with rec.
func NewReputationResponse(src, dst, target PeerID, ttl int, nonce uint64, rec ReputationRecord) Message {
	return Message{
		Kind:        KindReputationResponse,
		Source:      src,
		Destination: dst,
		TTL:         ttl,
		Nonce:       nonce,
		Target:      target,
		Accepted:    rec.Accepted,
		Total:       rec.Total,
	}
}

// Validate rejects messages whose kind is outside the closed set.
func (m Message) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, m.Kind)
	}
	return nil
}

// Relayed returns a copy of m with one hop consumed.
func (m Message) Relayed() Message {
	m.TTL--
	return m
}

// String is a compact one-line rendering for logs.
func (m Message) String() string {
	switch m.Kind {
	case KindReputationRequest:
		return fmt.Sprintf("%s{%s target=%s ttl=%d nonce=%d}", m.Kind, m.Source, m.Target, m.TTL, m.Nonce)
	case KindReputationResponse:
		return fmt.Sprintf("%s{%s->%s target=%s %d/%d ttl=%d nonce=%d}",
			m.Kind, m.Source, m.Destination, m.Target, m.Accepted, m.Total, m.TTL, m.Nonce)
	default:
		return fmt.Sprintf("%s{%s->%s ttl=%d}", m.Kind, m.Source, m.Destination, m.TTL)
	}
}
