package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/coursesync/internal/drafts"
	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/output"
)

// statusReport is the --json shape of the status command.
type statusReport struct {
	ServerURL string           `json:"server_url"`
	Online    bool             `json:"online"`
	UserID    string           `json:"user_id,omitempty"`
	Counts    drafts.Counts    `json:"counts"`
	Watched   []string         `json:"watched"`
	Runs      []models.SyncRun `json:"recent_runs"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show queue counts, reachability and recent sync passes",
	GroupID: "core",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		counts, err := a.drafts.Counts()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		limit, _ := cmd.Flags().GetInt("runs")
		runs, err := a.store.RecentSyncRuns(limit)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		rep := statusReport{
			ServerURL: a.settings.ServerURL,
			UserID:    a.settings.UserID,
			Counts:    counts,
			Watched:   []string{},
			Runs:      runs,
		}
		if offline, _ := cmd.Flags().GetBool("offline"); !offline {
			rep.Online = a.online(cmd.Context())
		}
		for _, t := range a.coord.Watched() {
			rep.Watched = append(rep.Watched, t.String())
		}
		if rep.Runs == nil {
			rep.Runs = []models.SyncRun{}
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(rep)
		}
		printStatus(cmd, rep, a.drafts.MaxRetry())
		return nil
	},
}

func printStatus(cmd *cobra.Command, rep statusReport, maxRetry int) {
	w := cmd.OutOrStdout()
	state := "offline"
	if rep.Online {
		state = "online"
	}
	user := rep.UserID
	if user == "" {
		user = "(not set)"
	}
	fmt.Fprintf(w, "%s  %s  user %s\n", rep.ServerURL, state, user)

	fmt.Fprint(w, output.SectionHeader("Queue"))
	c := rep.Counts
	fmt.Fprintf(w, "  draft %d  pending %d  synced %d  failed %d", c.Draft, c.Pending, c.Synced, c.Failed)
	if c.Exhausted > 0 {
		fmt.Fprintf(w, " (%d out of retries, max %d; use draft retry)", c.Exhausted, maxRetry)
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, output.SectionHeader("Watched"))
	if len(rep.Watched) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, t := range rep.Watched {
		fmt.Fprintf(w, "  %s\n", t)
	}

	fmt.Fprint(w, output.SectionHeader("Recent passes"))
	if len(rep.Runs) == 0 {
		fmt.Fprintln(w, "  none yet")
	}
	for _, r := range rep.Runs {
		fmt.Fprintf(w, "  %s\n", output.FormatSyncRun(r))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("json", false, "JSON output")
	statusCmd.Flags().Bool("offline", false, "Skip the reachability probe")
	statusCmd.Flags().Int("runs", 5, "Number of recent passes to show")
}
