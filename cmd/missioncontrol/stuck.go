package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"missioncontrol/internal/store"
	"missioncontrol/internal/stuck"
)

var stuckList bool

var stuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "Count tasks waiting longer than their priority allows",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		d := stuck.NewDetector(db, cfg.MonitoringConfig())
		n, err := d.CountStuck(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d stuck task(s)\n", n)
		if !stuckList || n == 0 {
			return nil
		}

		list, err := d.ListStuck(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPRIORITY\tWAITING")
		for _, t := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Priority, time.Since(t.UpdatedAt).Round(time.Minute))
		}
		return w.Flush()
	},
}

func init() {
	stuckCmd.Flags().BoolVarP(&stuckList, "list", "l", false, "list the stuck tasks")
}
