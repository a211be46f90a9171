package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"picam/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	var autostart bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the picam daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts := daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			}
			if cmd.Flags().Changed("autostart") {
				opts.Autostart = &autostart
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for this run")
	cmd.Flags().BoolVar(&development, "dev", false, "Use development logging (console format, source locations)")
	cmd.Flags().BoolVar(&autostart, "autostart", false, "Start recording immediately (overrides supervisor.autostart)")
	return cmd
}
