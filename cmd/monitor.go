package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/coursesync/internal/connectivity"
	"github.com/marcus/coursesync/internal/output"
	"github.com/marcus/coursesync/pkg/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard of the queue, cache and sync history",
	Long: `Launch a live-updating dashboard showing:
- Drafts: every queued entry with its status and retry count
- Cache: cached collections and when they were last refreshed
- History: recent sync passes

The server is probed in the background and a reconnect runs a full pass,
just like the watch command.

Key bindings:
  Tab/Shift+Tab  Switch panels
  ↑/↓ or k/j     Select row
  s              Sync now
  r              Force refresh
  q              Quit`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		if err := a.coord.Start(); err != nil {
			output.Error("%v", err)
			return err
		}

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		mon := connectivity.New(false)
		prober := &connectivity.Prober{
			Monitor:  mon,
			Interval: a.settings.ProbeInterval,
			Check: func(ctx context.Context) error {
				_, err := a.client.HealthCheck(ctx)
				return err
			},
		}
		go prober.Run(ctx)
		go a.coord.Run(ctx, mon, nil)

		model := monitor.NewModel(monitor.Options{
			Queue:    a.drafts,
			Cache:    a.cache,
			History:  a.store,
			Online:   mon.Online,
			Sync:     a.coord.OnReconnect,
			Interval: interval,
			Version:  version,
		})

		// log lines would tear the alt screen
		slog.SetDefault(slog.New(slog.DiscardHandler))

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval")
}
