package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"missioncontrol/internal/config"
)

var (
	configPath string
	addrFlag   string
	dbFlag     string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "missioncontrol",
	Short:         "Mission Control monitoring and orchestration server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if addrFlag != "" {
			c.Server.Addr = addrFlag
		}
		if dbFlag != "" {
			c.Database.Path = dbFlag
		}
		setupLogging(c.Log)
		cfg = c
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MISSIONCONTROL_CONFIG"), "config file (.yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "HTTP bind address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite DB path (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(stuckCmd)
}

func setupLogging(lc config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if strings.EqualFold(lc.Format, "json") {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("missioncontrol")
		os.Exit(1)
	}
}
