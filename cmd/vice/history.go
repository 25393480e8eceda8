package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"vice/internal/config"
	"vice/internal/storage"
	logx "vice/pkg/logx"
)

type historyFlags struct {
	limit int
	json  bool
}

func newHistoryCmd(f *rootFlags) *cobra.Command {
	hf := &historyFlags{}
	cmd := &cobra.Command{
		Use:   "history [job...]",
		Short: "print recent runs from the configured store (all configured jobs by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return history(cmd, f.config, args, *hf)
		},
	}
	cmd.Flags().IntVarP(&hf.limit, "limit", "n", 10, "runs per job")
	cmd.Flags().BoolVar(&hf.json, "json", false, "print JSON lines")
	return cmd
}

func history(cmd *cobra.Command, cfgPath string, names []string, hf historyFlags) error {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	sc, err := cfg.Storage.StorageSettings()
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("storage is disabled in config")
	}
	defer st.Close()

	if len(names) == 0 {
		for _, jc := range cfg.Jobs {
			names = append(names, strings.TrimSpace(jc.Name))
		}
	}
	var runs []storage.Run
	for _, name := range names {
		rs, err := st.RecentRuns(cmd.Context(), name, hf.limit)
		if err != nil {
			return errors.Wrapf(err, "job %q", name)
		}
		runs = append(runs, rs...)
	}
	if hf.json {
		return printRunsJSON(cmd.OutOrStdout(), runs)
	}
	return printRuns(cmd.OutOrStdout(), runs)
}

func printRunsJSON(w io.Writer, runs []storage.Run) error {
	enc := json.NewEncoder(w)
	for _, r := range runs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func printRuns(w io.Writer, runs []storage.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTARTED\tTOOK\tSTATUS\tREASON\tERROR")
	for _, r := range runs {
		took := time.Duration(r.TookMS) * time.Millisecond
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Job, r.StartedAt.Local().Format(time.RFC3339), took, r.Status, r.Reason, r.Error)
	}
	return tw.Flush()
}
