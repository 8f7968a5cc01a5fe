package main

import (
	"github.com/spf13/cobra"

	"github.com/skiffworks/skiff/pkg/logger"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	opts := logger.DefaultConfig()

	cmd := &cobra.Command{
		Use:     "skiff-agent",
		Short:   "the skiff per-node agent",
		Version: version,
		PersistentPreRun: func(*cobra.Command, []string) {
			logger.SetLogrus(*opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Level, "level", "l", "info",
		"set the logging level (can be one of: debug, info, warn, error, or fatal)")
	cmd.PersistentFlags().BoolVar(&opts.Color, "color", true, "enable colored log output")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newCompletionCmd())

	return cmd
}
