package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/coursesync/internal/config"
	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/output"
)

var errNotCached = errors.New("collection not cached")

var cacheCmd = &cobra.Command{
	Use:     "cache",
	Short:   "Read and refresh cached course content",
	GroupID: "cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <course> <announcements|discussions>",
	Short: "Show a cached collection",
	Long: `Prints the last snapshot of a collection from the local cache. Nothing is
fetched; use --refresh to pull a new snapshot first.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[1])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
			if err := a.cache.RefreshFromRemote(cmd.Context(), args[0], kind); err != nil {
				output.Warning("refresh failed, showing cached copy: %v", err)
			}
		}

		snap, err := a.cache.Snapshot(args[0], kind)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if snap == nil {
			output.Error("%s/%s is not cached (coursesync cache refresh %s %s)", args[0], kind, args[0], kind)
			return errNotCached
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(snap)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, output.FormatSnapshotHeader(*snap))
		for _, d := range snap.Items {
			fmt.Fprintln(w, output.FormatDocument(d))
			if body := d.String("body"); body != "" {
				fmt.Fprintln(w, output.IndentString(output.RenderBody(body), 4))
			}
		}
		if len(snap.Items) == 0 {
			fmt.Fprintln(w, "  (empty)")
		}
		return nil
	},
}

var cacheListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached collections",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		snaps, err := a.cache.List()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			if snaps == nil {
				snaps = []models.CachedCollection{}
			}
			return output.JSON(snaps)
		}
		for _, s := range snaps {
			fmt.Fprintln(cmd.OutOrStdout(), output.FormatSnapshotHeader(s))
		}
		if len(snaps) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing cached")
		}
		return nil
	},
}

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh [course kind]",
	Short: "Pull fresh snapshots from the server",
	Long: `With a course and kind, refreshes that collection. Without arguments,
refreshes every watched collection.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("accepts 0 or 2 args, received %d", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		if len(args) == 2 {
			kind, err := parseKind(args[1])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if err := a.cache.RefreshFromRemote(cmd.Context(), args[0], kind); err != nil {
				output.Error("%v", err)
				return err
			}
			output.Success("REFRESHED %s/%s", args[0], kind)
			return nil
		}

		if len(a.coord.Watched()) == 0 {
			output.Info("no watched collections (coursesync cache watch <course> <kind>)")
			return nil
		}
		res := a.coord.RefreshAll(cmd.Context())
		printPass(res)
		if n := len(res.RefreshErrors); n > 0 {
			return fmt.Errorf("%d collection(s) failed to refresh", n)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear <course>",
	Short: "Drop every cached collection of a course",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		n, err := a.cache.Clear(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("CLEARED %d collection(s) of %s", n, args[0])
		return nil
	},
}

var cacheWatchCmd = &cobra.Command{
	Use:   "watch <course> <kind>",
	Short: "Keep a collection fresh on reconnect",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editWatch(args, true)
	},
}

var cacheUnwatchCmd = &cobra.Command{
	Use:   "unwatch <course> <kind>",
	Short: "Stop refreshing a collection on reconnect",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editWatch(args, false)
	},
}

func editWatch(args []string, add bool) error {
	kind, err := parseKind(args[1])
	if err != nil {
		output.Error("%v", err)
		return err
	}
	dir, err := config.Dir()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	err = config.Update(dir, func(cfg *config.Config) error {
		if add {
			return cfg.AddWatch(args[0], kind)
		}
		cfg.RemoveWatch(args[0], kind)
		return nil
	})
	if err != nil {
		output.Error("%v", err)
		return err
	}
	if add {
		output.Success("WATCHING %s/%s", args[0], kind)
	} else {
		output.Success("UNWATCHED %s/%s", args[0], kind)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheShowCmd, cacheListCmd, cacheRefreshCmd, cacheClearCmd, cacheWatchCmd, cacheUnwatchCmd)

	cacheShowCmd.Flags().Bool("refresh", false, "Refresh from the server before showing")
	cacheShowCmd.Flags().Bool("json", false, "JSON output")
	cacheListCmd.Flags().Bool("json", false, "JSON output")
}
