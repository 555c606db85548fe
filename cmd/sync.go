package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/marcus/coursesync/internal/output"
	"github.com/marcus/coursesync/internal/syncer"
)

var errOffline = errors.New("server unreachable")

var syncCmd = &cobra.Command{
	Use:   "sync [draft-id...]",
	Short: "Send queued drafts to the server",
	Long: `Without arguments, sends every eligible draft in creation order. With ids,
sends just those drafts. --all runs a full reconnect pass: the queue is
flushed first and then every watched collection is refreshed.`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if !a.online(ctx) {
			output.Error("%s is unreachable; drafts stay queued", a.settings.ServerURL)
			return errOffline
		}
		if err := a.coord.Start(); err != nil {
			output.Error("%v", err)
			return err
		}

		if len(args) > 0 {
			var errs []error
			for _, id := range args {
				if err := a.drafts.SyncOne(ctx, id); err != nil {
					output.Error("%s: %v", id, err)
					errs = append(errs, err)
					continue
				}
				output.Success("SYNCED %s", id)
			}
			return errors.Join(errs...)
		}

		all, _ := cmd.Flags().GetBool("all")
		var res syncer.Result
		if all {
			res, err = a.coord.OnReconnect(ctx)
		} else {
			res, err = a.coord.SyncDrafts(ctx)
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}
		printPass(res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("all", false, "Also refresh every watched collection")
}
