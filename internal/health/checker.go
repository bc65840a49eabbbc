// Package health runs periodic liveness checks over the run store, the
// storage directory and the live simulation.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nofree-network/nofree/internal/infra/sim"
)

// DefaultInterval is how often checks run.
const DefaultInterval = 30 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is satisfied by the run store.
type Pinger interface {
	Ping() error
}

// SimStatus is satisfied by the simulator.
type SimStatus interface {
	Status() sim.Status
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      *zap.Logger
}

// NewChecker creates a checker for the run store and its data directory.
func NewChecker(db Pinger, dataDir string, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		interval: DefaultInterval,
		log:      log,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
			},
			{
				Name: "storage_dir",
				CheckFn: func(ctx context.Context) error {
					return checkDir(dataDir)
				},
				RecoverFn: func(ctx context.Context) error {
					return os.MkdirAll(dataDir, 0700)
				},
			},
		},
	}
}

// SetInterval changes the check period. Call before Run.
func (c *Checker) SetInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// WatchSimulation adds a check that fails when a running simulation has
// processed no events since the previous check.
func (c *Checker) WatchSimulation(s SimStatus) {
	var (
		mu   sync.Mutex
		last int64 = -1
	)
	c.AddCheck(Check{
		Name: "simulation",
		CheckFn: func(ctx context.Context) error {
			st := s.Status()
			mu.Lock()
			defer mu.Unlock()
			prev := last
			last = st.Events
			if st.Running && prev >= 0 && st.Events == prev {
				return fmt.Errorf("run %s stalled at %d events", st.RunID, st.Events)
			}
			return nil
		},
	})
}

// AddCheck registers an extra check.
func (c *Checker) AddCheck(check Check) {
	c.mu.Lock()
	c.checks = append(c.checks, check)
	c.mu.Unlock()
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunAll(ctx)
		}
	}
}

// RunAll runs every check once and records the results.
func (c *Checker) RunAll(ctx context.Context) {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	statuses := make([]Status, len(checks))
	for i, check := range checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			c.log.Warn("health check failed", zap.String("check", check.Name), zap.Error(err))
			if check.RecoverFn != nil {
				if rerr := check.RecoverFn(ctx); rerr != nil {
					c.log.Warn("recovery failed", zap.String("check", check.Name), zap.Error(rerr))
				}
			}
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check storage dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
