package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sandrinn/llm-gateway/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway service",
	Long:  `Start the gateway service in the foreground.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting gateway",
		"host", cfg.Host,
		"port", cfg.Port,
		"upstream", cfg.HostCapability.BaseURL,
		"models", len(cfg.HostCapability.Models),
	)

	srv := server.New(cfgMgr, logger, Version)
	return srv.Start()
}
