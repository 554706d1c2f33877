package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tkilaker/feedkiln/internal/config"
	"github.com/tkilaker/feedkiln/internal/logging"

	_ "time/tzdata"
)

type rootFlags struct {
	logLevel    string
	sourcesFile string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "feedkiln",
		Short:         "Scheduled news and web data ingestion",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&flags.sourcesFile, "sources", "", "YAML sources file (overrides SOURCES_FILE)")

	root.AddCommand(
		newServeCmd(flags),
		newFetchCmd(flags),
		newCleanupCmd(flags),
		newReportCmd(flags),
		newSourcesCmd(flags),
	)
	return root
}

// loadConfig reads configuration and applies the persistent flags.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.sourcesFile != "" {
		cfg.SourcesFile = flags.sourcesFile
	}

	logging.Setup(cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}
