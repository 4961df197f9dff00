package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/medcontrol/sessiongate/internal/domain/idle"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep the session alive and watch for idle timeout",
	Long: `Run holds the session open and enforces the inactivity timeout: when
the session has seen no activity for the configured window, it is logged
out and run exits.

Run also exits when the session ends for any other reason, such as a
logout from another invocation sharing the same credential store.

When metrics.addr is configured, a Prometheus /metrics endpoint is served
for the lifetime of the command.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// Signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	if !a.session.HasSession(ctx) {
		return errors.New("no active session; run \"sessiongate login\" first")
	}

	var metricsSrv *http.Server
	if addr := a.cfg.Metrics.Addr; addr != "" {
		metricsSrv = &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("serving metrics", "addr", addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	timedOut := make(chan struct{})
	monitor := idle.NewMonitor(a.session, idle.Config{Timeout: a.cfg.IdleTimeout()}, a.logger,
		idle.WithOnTimeout(func() {
			a.metrics.IdleTimeouts.Inc()
			close(timedOut)
		}),
	)
	monitor.Start(ctx)
	defer monitor.Stop()

	loggedIn := a.session.LoggedIn()
	defer a.session.UnsubscribeLoggedIn(loggedIn)

	a.logger.Info("watching session", "idle_timeout", a.cfg.IdleTimeout().String())

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutting down")
			return nil
		case <-timedOut:
			fmt.Fprintln(cmd.OutOrStdout(), "Session ended after inactivity")
			return nil
		case state, ok := <-loggedIn:
			if !ok {
				return nil
			}
			if !state {
				fmt.Fprintln(cmd.OutOrStdout(), "Session ended")
				return nil
			}
		}
	}
}
