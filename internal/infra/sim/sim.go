// Package sim is a single-threaded discrete-event host for NoFree nodes.
//
// The simulator owns a virtual clock and one event heap. It builds the
// overlay from a Topology, gives each node a Host adapter (timers, links,
// randomness), and processes events one at a time: a timer expiry or the
// delivery of a message on a directed link. Delivery on a link is FIFO.
//
// Inspection methods (Status, Nodes, Node) are safe to call from other
// goroutines while Run executes; the simulator lock is held for the
// duration of each event.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nofree-network/nofree/internal/app/node"
	"github.com/nofree-network/nofree/internal/domain"
	"github.com/nofree-network/nofree/internal/infra/dist"
	"github.com/nofree-network/nofree/internal/infra/metrics"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config describes one simulation run.
type Config struct {
	Seed        uint64
	Duration    time.Duration       // simulated time; 0 runs until the queue drains
	LinkLatency domain.Distribution // nil means zero latency
	Topology    Topology
	Nodes       []node.Config // index is the peer id; ID fields are overwritten
	MaxEvents   int64         // 0 means unlimited

	// OnDeliver, when set, observes every message as it is handed to its
	// receiver. Called with the simulator lock held.
	OnDeliver func(from, to domain.PeerID, msg domain.Message)
}

// Status is a live view of a run.
type Status struct {
	RunID      string        `json:"run_id"`
	Running    bool          `json:"running"`
	Now        time.Duration `json:"now"`
	Events     int64         `json:"events"`
	QueueDepth int           `json:"queue_depth"`
	Nodes      int           `json:"nodes"`
	Topology   string        `json:"topology"`
}

// ─── Simulator ──────────────────────────────────────────────────────────────

type link struct {
	from, to     domain.PeerID
	remote       int // index of the reverse link in the receiver's table
	lastDelivery time.Duration
}

// Simulator runs a set of nodes over a simulated overlay.
type Simulator struct {
	mu  sync.Mutex
	cfg Config
	log *zap.Logger
	rng *rand.Rand

	runID   string
	now     time.Duration
	queue   eventQueue
	nodes   []*node.Node
	hosts   []*nodeHost
	events  int64
	started bool
	running bool

	startedAt time.Time
}

// New builds the overlay and the nodes. Nodes are not started until Run.
func New(cfg Config, log *zap.Logger) (*Simulator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.Nodes) != cfg.Topology.Nodes {
		return nil, fmt.Errorf("%w: %d node configs for a %d-node topology",
			domain.ErrInvalidConfig, len(cfg.Nodes), cfg.Topology.Nodes)
	}

	for i, nc := range cfg.Nodes {
		if nc.DownloadInterval != nil && dist.NeverPositive(nc.DownloadInterval) {
			return nil, fmt.Errorf("%w: node %d: download interval %s never advances the clock",
				domain.ErrInvalidConfig, i, nc.DownloadInterval)
		}
	}

	s := &Simulator{
		cfg:   cfg,
		log:   log,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		runID: uuid.New().String(),
	}

	edges, err := cfg.Topology.Build(s.rng)
	if err != nil {
		return nil, err
	}

	s.hosts = make([]*nodeHost, len(cfg.Nodes))
	for i := range s.hosts {
		s.hosts[i] = &nodeHost{sim: s, id: domain.PeerID(i)}
	}
	for _, e := range edges {
		a, b := s.hosts[e[0]], s.hosts[e[1]]
		la, lb := len(a.links), len(b.links)
		a.links = append(a.links, &link{from: a.id, to: b.id, remote: lb})
		b.links = append(b.links, &link{from: b.id, to: a.id, remote: la})
		a.neighbors = append(a.neighbors, domain.Neighbor{Link: la, Peer: b.id})
		b.neighbors = append(b.neighbors, domain.Neighbor{Link: lb, Peer: a.id})
	}

	nodeLog := log.Named("node")
	s.nodes = make([]*node.Node, len(cfg.Nodes))
	for i, nc := range cfg.Nodes {
		nc.ID = domain.PeerID(i)
		s.nodes[i] = node.New(nc, s.hosts[i], nodeLog)
	}

	log.Info("overlay built",
		zap.String("run", s.runID),
		zap.Stringer("topology", cfg.Topology),
		zap.Int("edges", len(edges)))
	return s, nil
}

// RunID returns the identifier assigned to this run.
func (s *Simulator) RunID() string { return s.runID }

// Inject schedules msg onto the directed link from→to after delay, as if
// from had sent it. The endpoints must be neighbors.
func (s *Simulator) Inject(from, to domain.PeerID, msg domain.Message, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.host(from)
	if err != nil {
		return err
	}
	for _, nb := range h.neighbors {
		if nb.Peer == to {
			h.deliverAfter(h.links[nb.Link], msg, delay)
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not a neighbor of %s", domain.ErrUnknownLink, to, from)
}

// Run starts every node and processes events until the configured duration
// elapses, the queue drains, MaxEvents is reached, or ctx is cancelled.
// Nodes are stopped before the report is built.
func (s *Simulator) Run(ctx context.Context) (domain.RunReport, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return domain.RunReport{}, fmt.Errorf("run %s already started", s.runID)
	}
	s.started = true
	s.running = true
	s.startedAt = time.Now()
	for _, n := range s.nodes {
		n.Start()
	}
	s.mu.Unlock()

	s.log.Info("run started",
		zap.String("run", s.runID),
		zap.Int("nodes", len(s.nodes)),
		zap.Uint64("seed", s.cfg.Seed),
		zap.Duration("duration", s.cfg.Duration))

	status := domain.RunCompleted
	drained := false
	for {
		if ctx.Err() != nil {
			status = domain.RunCancelled
			break
		}
		if !s.Step() {
			drained = true
			break
		}
		if s.cfg.MaxEvents > 0 && s.Events() >= s.cfg.MaxEvents {
			break
		}
	}

	s.mu.Lock()
	// The clock only reaches the horizon when nothing else was due before it.
	if s.cfg.Duration > 0 && drained {
		s.now = s.cfg.Duration
	}
	for _, n := range s.nodes {
		n.Stop()
	}
	s.running = false
	report := s.reportLocked(status)
	s.mu.Unlock()

	metrics.RunsCompleted.WithLabelValues(string(status)).Inc()
	s.log.Info("run finished",
		zap.String("run", s.runID),
		zap.String("status", string(status)),
		zap.Int64("events", report.Events),
		zap.Duration("sim_time", report.Duration),
		zap.Duration("wall", report.EndedAt.Sub(report.StartedAt)))

	if status == domain.RunCancelled {
		return report, ctx.Err()
	}
	return report, nil
}

// Step processes the next event. It reports false when nothing is due
// within the configured duration.
func (s *Simulator) Step() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.queue.peek()
	if !ok {
		return false
	}
	if s.cfg.Duration > 0 && e.at > s.cfg.Duration {
		return false
	}
	s.queue.pop()
	s.now = e.at
	s.events++
	e.fire()

	metrics.SimEvents.WithLabelValues(e.typ.String()).Inc()
	metrics.SimClock.Set(s.now.Seconds())
	metrics.SimQueueDepth.Set(float64(s.queue.len()))
	return true
}

// ─── Inspection ─────────────────────────────────────────────────────────────

// Status returns the live clock and counters.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		RunID:      s.runID,
		Running:    s.running,
		Now:        s.now,
		Events:     s.events,
		QueueDepth: s.queue.len(),
		Nodes:      len(s.nodes),
		Topology:   s.cfg.Topology.String(),
	}
}

// Events returns the number of processed events.
func (s *Simulator) Events() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Now returns the simulated clock.
func (s *Simulator) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Nodes returns a snapshot of every node.
func (s *Simulator) Nodes() []domain.NodeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.NodeState, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.Snapshot()
	}
	return out
}

// Node returns a snapshot of one node.
func (s *Simulator) Node(id domain.PeerID) (domain.NodeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) < 0 || int(id) >= len(s.nodes) {
		return domain.NodeState{}, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
	}
	return s.nodes[id].Snapshot(), nil
}

// Report builds a report of the current state without stopping the run.
func (s *Simulator) Report() domain.RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := domain.RunCompleted
	if s.running {
		status = domain.RunRunning
	}
	return s.reportLocked(status)
}

func (s *Simulator) reportLocked(status domain.RunStatus) domain.RunReport {
	r := domain.RunReport{
		ID:        s.runID,
		Status:    status,
		Seed:      s.cfg.Seed,
		Topology:  s.cfg.Topology.String(),
		Nodes:     len(s.nodes),
		Duration:  s.now,
		Events:    s.events,
		StartedAt: s.startedAt,
		EndedAt:   time.Now(),
		PerNode:   make([]domain.NodeReport, len(s.nodes)),
	}
	for i, n := range s.nodes {
		cfg := n.Config()
		r.PerNode[i] = domain.NodeReport{
			ID:         n.ID(),
			Population: cfg.Population,
			Kindness:   cfg.Kindness,
			ShareRate:  cfg.RequiredShareRate,
			Degree:     len(s.hosts[i].neighbors),
			Stats:      n.Stats(),
			Reputation: n.Table().All(),
		}
	}
	return r
}

func (s *Simulator) host(id domain.PeerID) (*nodeHost, error) {
	if int(id) < 0 || int(id) >= len(s.hosts) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, id)
	}
	return s.hosts[id], nil
}

// ─── Node Host ──────────────────────────────────────────────────────────────

// nodeHost adapts the simulator to one node's domain.Host. Every method runs
// with the simulator lock already held by the event loop.
type nodeHost struct {
	sim       *Simulator
	id        domain.PeerID
	links     []*link
	neighbors []domain.Neighbor
}

func (h *nodeHost) Now() time.Duration { return h.sim.now }

func (h *nodeHost) ScheduleAfter(d time.Duration, fire func()) domain.Timer {
	if d < 0 {
		d = 0
	}
	e := h.sim.queue.schedule(h.sim.now+d, eventTimer, fire)
	return timer{q: &h.sim.queue, e: e}
}

func (h *nodeHost) Neighbors() []domain.Neighbor { return h.neighbors }

func (h *nodeHost) Send(l int, msg domain.Message) error {
	if l < 0 || l >= len(h.links) {
		return fmt.Errorf("%w: %d on %s", domain.ErrUnknownLink, l, h.id)
	}
	var lat time.Duration
	if d := h.sim.cfg.LinkLatency; d != nil {
		if lat = d.Sample(h.sim.rng); lat < 0 {
			lat = 0
		}
	}
	h.deliverAfter(h.links[l], msg, lat)
	return nil
}

func (h *nodeHost) Float64() float64 { return h.sim.rng.Float64() }

func (h *nodeHost) IntN(n int) int { return h.sim.rng.IntN(n) }

// deliverAfter enqueues msg on l, never ahead of an earlier message on the
// same link.
func (h *nodeHost) deliverAfter(l *link, msg domain.Message, delay time.Duration) {
	s := h.sim
	at := s.now + delay
	if at < l.lastDelivery {
		at = l.lastDelivery
	}
	l.lastDelivery = at

	to := s.nodes[l.to]
	s.queue.schedule(at, eventDelivery, func() {
		if s.cfg.OnDeliver != nil {
			s.cfg.OnDeliver(l.from, l.to, msg)
		}
		if err := to.HandleMessage(l.remote, msg); err != nil {
			s.log.Warn("message rejected",
				zap.Stringer("from", l.from),
				zap.Stringer("to", l.to),
				zap.Stringer("msg", msg),
				zap.Error(err))
		}
	})
}
