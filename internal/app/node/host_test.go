package node

import (
	"fmt"
	"sort"
	"time"

	"github.com/nofree-network/nofree/internal/domain"
)

// fixed is a constant distribution for tests.
type fixed time.Duration

func (f fixed) Sample(domain.Random) time.Duration { return time.Duration(f) }
func (f fixed) String() string                     { return time.Duration(f).String() }

type fakeTimer struct {
	at      time.Duration
	seq     int
	fire    func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type sentMsg struct {
	link int
	msg  domain.Message
}

// fakeHost records everything a node does and lets tests fire timers by hand.
type fakeHost struct {
	now       time.Duration
	neighbors []domain.Neighbor
	sent      []sentMsg
	timers    []*fakeTimer
	floats    []float64
	ints      []int
	sendErr   error
}

func newFakeHost(neighbors ...domain.Neighbor) *fakeHost {
	return &fakeHost{neighbors: neighbors}
}

// mesh builds neighbors where link i leads to peers[i].
func mesh(peers ...domain.PeerID) []domain.Neighbor {
	out := make([]domain.Neighbor, len(peers))
	for i, p := range peers {
		out[i] = domain.Neighbor{Link: i, Peer: p}
	}
	return out
}

func (h *fakeHost) Now() time.Duration { return h.now }

func (h *fakeHost) ScheduleAfter(d time.Duration, fire func()) domain.Timer {
	t := &fakeTimer{at: h.now + d, seq: len(h.timers), fire: fire}
	h.timers = append(h.timers, t)
	return t
}

func (h *fakeHost) Neighbors() []domain.Neighbor { return h.neighbors }

func (h *fakeHost) Send(link int, msg domain.Message) error {
	if h.sendErr != nil {
		return h.sendErr
	}
	if link < 0 || link >= len(h.neighbors) {
		return fmt.Errorf("%w: %d", domain.ErrUnknownLink, link)
	}
	h.sent = append(h.sent, sentMsg{link: link, msg: msg})
	return nil
}

func (h *fakeHost) Float64() float64 {
	if len(h.floats) == 0 {
		return 0
	}
	v := h.floats[0]
	h.floats = h.floats[1:]
	return v
}

func (h *fakeHost) IntN(n int) int {
	if len(h.ints) == 0 {
		return 0
	}
	v := h.ints[0] % n
	h.ints = h.ints[1:]
	return v
}

// pending returns live timers ordered by due time.
func (h *fakeHost) pending() []*fakeTimer {
	var out []*fakeTimer
	for _, t := range h.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].at != out[j].at {
			return out[i].at < out[j].at
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// fireNext advances the clock to the earliest live timer and fires it.
func (h *fakeHost) fireNext() bool {
	p := h.pending()
	if len(p) == 0 {
		return false
	}
	t := p[0]
	h.now = t.at
	t.fired = true
	t.fire()
	return true
}

// takeSent returns and clears the recorded messages.
func (h *fakeHost) takeSent() []sentMsg {
	out := h.sent
	h.sent = nil
	return out
}

func kindsOf(sent []sentMsg) []domain.Kind {
	out := make([]domain.Kind, len(sent))
	for i, s := range sent {
		out[i] = s.msg.Kind
	}
	return out
}

func linksOf(sent []sentMsg) []int {
	out := make([]int, len(sent))
	for i, s := range sent {
		out[i] = s.link
	}
	return out
}
