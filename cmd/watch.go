package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marcus/coursesync/internal/connectivity"
	"github.com/marcus/coursesync/internal/output"
	"github.com/marcus/coursesync/internal/syncer"
)

const (
	liveBackoffMin = time.Second
	liveBackoffMax = 30 * time.Second
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay running: sync on reconnect and stream watched collections",
	Long: `Probes the server every probe_interval. Each time it comes back after being
unreachable, the queue is flushed and then every watched collection is
refreshed. While online, watched collections are also streamed live into the
cache. Stop with Ctrl-C.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		noLive, _ := cmd.Flags().GetBool("no-live")
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.coord.Start(); err != nil {
			output.Error("%v", err)
			return err
		}
		targets := a.coord.Watched()
		output.Info("watching %s (%d collection(s)); Ctrl-C to stop", a.settings.ServerURL, len(targets))

		// starting offline makes the first successful probe a reconnect
		mon := connectivity.New(false)
		prober := &connectivity.Prober{
			Monitor:  mon,
			Interval: a.settings.ProbeInterval,
			Check: func(ctx context.Context) error {
				_, err := a.client.HealthCheck(ctx)
				return err
			},
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			prober.Run(gctx)
			return nil
		})
		g.Go(func() error {
			a.coord.Run(gctx, mon, func(res syncer.Result, err error) {
				if err != nil {
					output.Error("reconnect pass: %v", err)
					return
				}
				printPass(res)
			})
			return nil
		})
		if !noLive {
			for _, t := range targets {
				g.Go(func() error {
					streamLive(gctx, a, mon, t)
					return nil
				})
			}
		}
		return g.Wait()
	},
}

// streamLive keeps one collection subscribed while the monitor says online,
// resubscribing with capped exponential backoff when the stream drops.
func streamLive(ctx context.Context, a *app, mon *connectivity.Monitor, t syncer.Target) {
	transitions := mon.Subscribe(ctx)
	backoff := liveBackoffMin
	for {
		if !mon.Online() {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-transitions:
				if !ok {
					return
				}
				continue
			}
		}

		started := time.Now()
		err := a.cache.Live(ctx, t.CourseID, t.Kind)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("watch: live stream ended", "target", t.String(), "err", err)
		}
		if time.Since(started) > liveBackoffMax {
			backoff = liveBackoffMin
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, liveBackoffMax)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("no-live", false, "Only sync on reconnect; do not stream collections")
}
