package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to list")
	rootCmd.AddCommand(runsCmd)
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"ls"},
	Short:   "List stored simulation runs",
	Args:    cobra.NoArgs,
	RunE:    runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := openDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	runs, err := d.DB.ListRuns(runsLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs stored. Run 'nofree run' to start one.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSEED\tTOPOLOGY\tSIMULATED\tEVENTS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
			r.ID,
			r.Status,
			r.Seed,
			r.Topology,
			r.Duration,
			r.Events,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}
