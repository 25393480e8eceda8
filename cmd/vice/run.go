package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/coreos/go-systemd/v22/journal"
	"github.com/spf13/cobra"

	"vice/internal/app"
	logx "vice/pkg/logx"
)

const stopTimeout = 15 * time.Second

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "load the config and run jobs until SIGINT/SIGTERM (SIGHUP reloads)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), f.config)
		},
	}
}

func serve(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	a.SetAlertSink(alertSink())
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return errors.Wrap(err, "start")
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var watchdog <-chan time.Time
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 {
		t := time.NewTicker(d / 2)
		defer t.Stop()
		watchdog = t.C
	}

	reason := app.StopUnknown
	for reason == app.StopUnknown {
		select {
		case <-ctx.Done():
			reason = app.StopSIGTERM
		case <-a.Done():
			reason = app.StopFatalError
		case <-hup:
			if err := a.Reload(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "reload:", err)
			}
		case <-watchdog:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

// alertSink sends alerts to the journal when running under systemd, and
// to stderr otherwise.
func alertSink() logx.AlertSink {
	if !journal.Enabled() {
		return func(_ context.Context, al logx.Alert) {
			fmt.Fprintln(os.Stderr, al.Text)
		}
	}
	return func(_ context.Context, al logx.Alert) {
		pri := journal.PriWarning
		if al.Level >= logx.LevelError {
			pri = journal.PriErr
		}
		_ = journal.Send(al.Text, pri, map[string]string{"VICE_ALERT": "1"})
	}
}
