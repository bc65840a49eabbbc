package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nofree-network/nofree/internal/api"
	"github.com/nofree-network/nofree/internal/domain"
	"github.com/nofree-network/nofree/internal/health"
	"github.com/nofree-network/nofree/internal/infra/metrics"
	"github.com/nofree-network/nofree/internal/infra/sim"
	"github.com/nofree-network/nofree/internal/infra/sqlite"
)

// MetaLastRun is the meta key holding the id of the most recent run.
const MetaLastRun = "last_run"

// Daemon is the NoFree runtime. It wires together the run store, the
// simulator and the HTTP API.
type Daemon struct {
	Config  Config
	Log     *zap.Logger
	DB      *sqlite.DB
	Server  *api.Server
	Health  *health.Checker
	Version string

	cancel context.CancelFunc
}

// New creates a Daemon from cfg. A nil logger discards output.
func New(cfg Config, log *zap.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sqlite.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	srv := api.NewServer(db, log.Named("api"))
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	checker := health.NewChecker(db, cfg.Storage.Dir, log.Named("health"))
	srv.SetHealth(checker)

	return &Daemon{
		Config:  cfg,
		Log:     log,
		DB:      db,
		Server:  srv,
		Health:  checker,
		Version: "dev",
	}, nil
}

// SetVersion records the binary version for /api/version and metrics.
func (d *Daemon) SetVersion(v string) {
	d.Version = v
	d.Server.SetVersion(v)
	metrics.BuildInfo.WithLabelValues(v).Set(1)
}

// NewSimulation builds a simulator from the configuration and attaches it
// to the API for live inspection.
func (d *Daemon) NewSimulation() (*sim.Simulator, error) {
	s, err := sim.New(d.Config.SimConfig(), d.Log.Named("sim"))
	if err != nil {
		return nil, fmt.Errorf("build simulation: %w", err)
	}
	d.Server.SetSimulation(s)
	d.Health.WatchSimulation(s)
	return s, nil
}

// RunSimulation runs the configured simulation to completion and stores its
// report. A cancelled run is stored too, with status CANCELLED.
func (d *Daemon) RunSimulation(ctx context.Context) (domain.RunReport, error) {
	s, err := d.NewSimulation()
	if err != nil {
		return domain.RunReport{}, err
	}

	report, runErr := s.Run(ctx)
	if text, err := d.Config.Encode(); err == nil {
		report.Config = text
	}

	store := d.Log.Named("store")
	if err := d.DB.SaveReport(report); err != nil {
		store.Warn("save report failed", zap.String("run", report.ID), zap.Error(err))
		return report, fmt.Errorf("save report: %w", err)
	}
	if err := d.DB.SetMeta(MetaLastRun, report.ID); err != nil {
		store.Warn("record last run failed", zap.Error(err))
	}
	store.Info("report saved", zap.String("run", report.ID), zap.String("status", string(report.Status)))

	return report, runErr
}

// Serve starts the HTTP server, runs the configured simulation in the
// background, and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	go func() {
		if _, err := d.RunSimulation(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.Log.Error("simulation failed", zap.Error(err))
		}
	}()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.Log.Info("serving",
		zap.String("addr", "http://"+addr),
		zap.Bool("metrics", d.Config.Telemetry.Prometheus))

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	_ = d.Log.Sync()
}
