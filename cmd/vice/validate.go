package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vice/internal/config"
	"vice/internal/jobs"
)

func newValidateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "check the config and print each job's next due time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validate(cmd.OutOrStdout(), f.config, time.Now())
		},
	}
}

func validate(w io.Writer, cfgPath string, now time.Time) error {
	m := config.NewManager(cfgPath)
	m.SetValidator(config.Validator)
	cfg, err := m.Load()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tKIND\tENABLED\tSCHEDULE\tNEXT")
	for _, jc := range cfg.Jobs {
		next := "-"
		loc, err := jc.Location()
		if err != nil {
			return err
		}
		sched, err := jobs.NewSchedule(jc.Schedule, now, loc)
		if err != nil {
			return err
		}
		if due := sched.DueTimeAfter(now); jc.IsEnabled() && !jobs.IsNever(due) {
			next = due.In(loc).Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
			strings.TrimSpace(jc.Name), jc.KindOrDefault(), jc.IsEnabled(), scheduleLabel(jc.Schedule), next)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "config ok: %d job(s)\n", len(cfg.Jobs))
	return nil
}

func scheduleLabel(raw string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return "never"
}
