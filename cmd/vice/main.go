package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vice:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	config string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	run := newRunCmd(f)

	root := &cobra.Command{
		Use:          "vice",
		Short:        "vice runs scheduled jobs declared in a config file",
		SilenceUsage: true,
		// Without a subcommand vice serves, as systemd units expect.
		RunE: run.RunE,
	}
	root.SilenceErrors = true
	root.PersistentFlags().StringVar(&f.config, "config", "./config.yaml", "path to config (yaml or json)")

	root.AddCommand(run)
	root.AddCommand(newValidateCmd(f))
	root.AddCommand(newHistoryCmd(f))
	root.AddCommand(newVersionCmd())
	return root
}
