package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			info, ok := debug.ReadBuildInfo()
			if !ok {
				fmt.Fprintln(w, "vice: version info not available")
				return
			}
			fmt.Fprintf(w, "vice:   %s\n", info.Main.Version)
			fmt.Fprintf(w, "go:     %s\n", info.GoVersion)
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					fmt.Fprintf(w, "commit: %s\n", s.Value)
				case "vcs.time":
					fmt.Fprintf(w, "date:   %s\n", s.Value)
				case "vcs.modified":
					fmt.Fprintf(w, "dirty:  %s\n", s.Value)
				}
			}
		},
	}
}
