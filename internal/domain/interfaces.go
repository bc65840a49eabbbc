package domain

import "time"

// ─── Host Interfaces ────────────────────────────────────────────────────────
// These interfaces define the boundary between a protocol node and the
// environment that runs it. The simulator implements them; the node depends
// only on them.

// Timer is a handle to a scheduled callback. It fires at most once.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was stopped.
	Stop() bool
}

// Scheduler delivers timer expiries to a node.
type Scheduler interface {
	// Now returns the current virtual time since the start of the run.
	Now() time.Duration

	// ScheduleAfter arranges for fire to run once, after d has elapsed.
	ScheduleAfter(d time.Duration, fire func()) Timer
}

// Neighbor is one outgoing overlay link and the peer at its far end.
type Neighbor struct {
	Link int    `json:"link"`
	Peer PeerID `json:"peer"`
}

// Links enumerates a node's neighbors and sends messages over them.
// Delivery is asynchronous and FIFO per link.
type Links interface {
	// Neighbors returns the ordered neighbor list, stable for the run.
	Neighbors() []Neighbor

	// Send queues msg on the given link.
	Send(link int, msg Message) error
}

// Random is the random-number source consumed by a node.
type Random interface {
	// Float64 returns a uniform sample in [0, 1).
	Float64() float64

	// IntN returns a uniform integer in [0, n).
	IntN(n int) int
}

// Host bundles everything a node needs from its environment.
type Host interface {
	Scheduler
	Links
	Random
}

// Distribution draws durations, e.g. the download interval.
type Distribution interface {
	Sample(r Random) time.Duration
	String() string
}
