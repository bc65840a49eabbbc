package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nofree-network/nofree/internal/daemon"
	"github.com/nofree-network/nofree/internal/domain"
)

func init() {
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "Random seed (overrides config)")
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "Simulated duration (overrides config)")
	runCmd.Flags().IntVar(&runNodes, "nodes", 0, "Number of nodes (overrides config)")
	runCmd.Flags().Int64Var(&runMaxEvents, "max-events", 0, "Stop after this many events (overrides config)")
	rootCmd.AddCommand(runCmd)
}

var (
	runSeed      uint64
	runDuration  time.Duration
	runNodes     int
	runMaxEvents int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation and store its report",
	Long: `Run the configured simulation to completion, store the report in the
local run database, and print a per-population summary. Interrupting the
run stores what was simulated so far as CANCELLED.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Simulation.Seed = runSeed
	}
	if runDuration > 0 {
		cfg.Simulation.Duration = daemon.Duration(runDuration)
	}
	if runNodes > 0 {
		cfg.Simulation.Topology.Nodes = runNodes
	}
	if runMaxEvents > 0 {
		cfg.Simulation.MaxEvents = runMaxEvents
	}

	d, err := openDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := d.RunSimulation(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", report.ID)
	fmt.Fprintf(out, "Status:    %s\n", report.Status)
	fmt.Fprintf(out, "Seed:      %d\n", report.Seed)
	fmt.Fprintf(out, "Topology:  %s\n", report.Topology)
	fmt.Fprintf(out, "Simulated: %s (%d events)\n\n", report.Duration, report.Events)
	return printPopulations(out, report)
}

// populationSummary aggregates the nodes of one population.
type populationSummary struct {
	Name  string
	Nodes int
	Stats domain.NodeStats
}

// summarize groups a report's nodes by population, sorted by name.
func summarize(r domain.RunReport) []populationSummary {
	byName := make(map[string]*populationSummary)
	for _, n := range r.PerNode {
		p, ok := byName[n.Population]
		if !ok {
			p = &populationSummary{Name: n.Population}
			byName[n.Population] = p
		}
		p.Nodes++
		p.Stats = domain.RunReport{PerNode: []domain.NodeReport{{Stats: p.Stats}, n}}.Totals()
	}

	out := make([]populationSummary, 0, len(byName))
	for _, p := range byName {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func printPopulations(w io.Writer, r domain.RunReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POPULATION\tNODES\tREQUESTS\tFULFILLED\tTIMED OUT\tNEGOTIATIONS\tSERVED\tREFUSED")
	for _, p := range summarize(r) {
		s := p.Stats
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d (%.0f%%)\t%d\t%d\t%d (%.0f%%)\t%d\n",
			p.Name, p.Nodes,
			s.RequestsSent, s.RequestsFulfilled, 100*s.FulfilledRate(), s.RequestsTimedOut,
			s.Negotiations, s.Served, 100*s.ServeRate(), s.Refused,
		)
	}
	return tw.Flush()
}
