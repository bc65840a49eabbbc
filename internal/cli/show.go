package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nofree-network/nofree/internal/daemon"
)

func init() {
	showCmd.Flags().BoolVar(&showNodes, "nodes", false, "Print per-node statistics")
	rootCmd.AddCommand(showCmd)
}

var showNodes bool

var showCmd = &cobra.Command{
	Use:   "show [RUN_ID]",
	Short: "Show a stored run (the most recent by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := openDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	var id string
	if len(args) > 0 {
		id = args[0]
	} else if id, err = d.DB.GetMeta(daemon.MetaLastRun); err != nil {
		return err
	} else if id == "" {
		return fmt.Errorf("no runs stored")
	}

	r, err := d.DB.GetRun(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", r.ID)
	fmt.Fprintf(out, "Status:    %s\n", r.Status)
	fmt.Fprintf(out, "Seed:      %d\n", r.Seed)
	fmt.Fprintf(out, "Topology:  %s\n", r.Topology)
	fmt.Fprintf(out, "Simulated: %s (%d events)\n", r.Duration, r.Events)
	fmt.Fprintf(out, "Started:   %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Wall time: %s\n\n", r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond))

	if err := printPopulations(out, *r); err != nil {
		return err
	}
	if !showNodes {
		return nil
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tPOPULATION\tDEGREE\tREQUESTS\tFULFILLED\tNEGOTIATIONS\tSERVED\tREFUSED\tKNOWN PEERS")
	for _, n := range r.PerNode {
		s := n.Stats
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			n.ID, n.Population, n.Degree,
			s.RequestsSent, s.RequestsFulfilled,
			s.Negotiations, s.Served, s.Refused,
			len(n.Reputation),
		)
	}
	return w.Flush()
}
