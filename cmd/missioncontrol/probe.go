package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"missioncontrol/internal/config"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/status"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe the gateway once and print its status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(cmd.Context(), cfg, os.Stdout)
	},
}

// runProbe needs no database; it checks the gateway against a fresh status record.
func runProbe(ctx context.Context, c *config.Config, out io.Writer) error {
	st := status.New(c.GatewayConfig(), c.MonitoringConfig(), time.Now())
	snap := newMonitor(c, st, nil).Check(ctx, 0)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return err
	}
	if snap.HealthStatus != domain.HealthHealthy {
		return fmt.Errorf("gateway at %s is %s", c.GatewayAddr(), snap.HealthStatus)
	}
	return nil
}
