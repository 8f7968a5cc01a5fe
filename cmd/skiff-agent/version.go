package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version of the skiff agent",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("skiff-agent %s (built with %s)\n", version, runtime.Version())
		},
	}
}
