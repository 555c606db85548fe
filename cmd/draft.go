package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/coursesync/internal/drafts"
	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/output"
	"github.com/marcus/coursesync/internal/syncer"
	"github.com/marcus/coursesync/pkg/monitor"
)

var draftCmd = &cobra.Command{
	Use:     "draft",
	Aliases: []string{"drafts"},
	Short:   "Write, inspect and manage queued posts",
	GroupID: "core",
}

var draftSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Queue a new discussion or reply",
	Long: `Saves a draft to the local store. A draft with --discussion is a reply to
that discussion; otherwise it starts a new discussion and needs --title.

When the server is reachable the queue is flushed right away; use --offline
to only queue.`,
	Example: `  coursesync draft save --course bio101 --title "Quiz 3" --body "When is it due?"
  coursesync draft save --course bio101 --discussion 2f0c... --body-file answer.md --anonymous`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()
		if err := a.requireUser(); err != nil {
			output.Error("%v", err)
			return err
		}

		course, _ := cmd.Flags().GetString("course")
		discussion, _ := cmd.Flags().GetString("discussion")
		title, _ := cmd.Flags().GetString("title")
		anonymous, _ := cmd.Flags().GetBool("anonymous")
		offline, _ := cmd.Flags().GetBool("offline")

		body, err := readBody(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		var payload models.Payload
		if discussion != "" {
			if title != "" {
				output.Warning("--title is ignored for replies")
			}
			payload = models.Comment{
				CourseID:     course,
				DiscussionID: discussion,
				Body:         body,
				Anonymous:    anonymous,
				AuthorID:     a.settings.UserID,
				AuthorRole:   a.settings.Role,
			}
		} else {
			payload = models.Discussion{
				CourseID:   course,
				Title:      title,
				Body:       body,
				Anonymous:  anonymous,
				AuthorID:   a.settings.UserID,
				AuthorRole: a.settings.Role,
			}
		}
		return saveAndPush(cmd.Context(), a, payload, !offline)
	},
}

// readBody takes --body, or --body-file where "-" means stdin.
func readBody(cmd *cobra.Command) (string, error) {
	body, _ := cmd.Flags().GetString("body")
	file, _ := cmd.Flags().GetString("body-file")
	if file == "" {
		return body, nil
	}
	if body != "" {
		return "", errors.New("use --body or --body-file, not both")
	}
	var r io.Reader = cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(data), nil
}

// saveAndPush queues payload and, when push is set and the server answers,
// flushes the queue immediately.
func saveAndPush(ctx context.Context, a *app, payload models.Payload, push bool) error {
	id, err := a.drafts.SaveDraft(payload)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	output.Success("SAVED %s", id)

	if !push {
		return nil
	}
	res, err := a.coord.AfterSave(ctx, a.online(ctx))
	if err != nil {
		output.Warning("saved locally; sync failed: %v", err)
		return nil
	}
	if res.StartedAt.IsZero() {
		output.Info("offline: draft will be sent when the server is reachable")
		return nil
	}
	printPass(res)
	return nil
}

var draftComposeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Write a draft in an interactive form",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()
		if err := a.requireUser(); err != nil {
			output.Error("%v", err)
			return err
		}

		course, _ := cmd.Flags().GetString("course")
		discussion, _ := cmd.Flags().GetString("discussion")
		offline, _ := cmd.Flags().GetBool("offline")

		kind := models.KindDiscussion
		if discussion != "" {
			kind = models.KindComment
		}
		form := monitor.NewComposeState(kind, course, discussion)
		if err := form.Run(); err != nil {
			return err
		}
		payload, err := form.ToPayload(a.settings.UserID, a.settings.Role)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		return saveAndPush(cmd.Context(), a, payload, !offline)
	},
}

var draftListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List queued drafts in creation order",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		var status statusValue
		if f := cmd.Flags().Lookup("status"); f != nil {
			status = *f.Value.(*statusValue)
		}
		course, _ := cmd.Flags().GetString("course")
		discussion, _ := cmd.Flags().GetString("discussion")
		jsonOut, _ := cmd.Flags().GetBool("json")

		filter := models.DraftFilter{CourseID: course, DiscussionID: discussion, Status: models.Status(status)}
		return listDrafts(cmd.OutOrStdout(), a.drafts, filter, jsonOut)
	},
}

func listDrafts(w io.Writer, m *drafts.Manager, filter models.DraftFilter, jsonOut bool) error {
	var entries []models.DraftEntry
	for e, err := range m.ListDrafts(filter) {
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if !jsonOut {
			fmt.Fprintln(w, output.FormatDraftShort(e, m.Exhausted(e)))
		}
		entries = append(entries, e)
	}
	if jsonOut {
		if entries == nil {
			entries = []models.DraftEntry{}
		}
		return output.JSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No drafts")
	}
	return nil
}

var draftShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one draft with its body and last error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		e, err := a.drafts.Get(args[0])
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				output.Error("draft %s not found", args[0])
			} else {
				output.Error("%v", err)
			}
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(e)
		}
		fmt.Fprint(cmd.OutOrStdout(), output.FormatDraftLong(*e, a.drafts.Exhausted(*e)))
		return nil
	},
}

var draftDeleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	Aliases: []string{"rm"},
	Short:   "Discard drafts in any state",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		var errs []error
		for _, id := range args {
			if err := a.drafts.DeleteDraft(id); err != nil {
				output.Error("%s: %v", id, err)
				errs = append(errs, err)
				continue
			}
			output.Success("DELETED %s", id)
		}
		return errors.Join(errs...)
	},
}

var draftRetryCmd = &cobra.Command{
	Use:   "retry <id>...",
	Short: "Reset failed drafts so they are sent again",
	Long: `Resets failed drafts to the draft state with a fresh retry budget. This is
the way to resend drafts that ran out of automatic retries. With --now the
drafts are sent immediately.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		now, _ := cmd.Flags().GetBool("now")
		var errs []error
		for _, id := range args {
			if _, err := a.drafts.Retry(id); err != nil {
				output.Error("%s: %v", id, err)
				errs = append(errs, err)
				continue
			}
			output.Success("RESET %s", id)
			if now {
				if err := a.drafts.SyncOne(cmd.Context(), id); err != nil {
					output.Warning("%s: %v", id, err)
					errs = append(errs, err)
				}
			}
		}
		return errors.Join(errs...)
	},
}

// printPass prints a one-line summary of a coordinator pass plus its errors.
func printPass(res syncer.Result) {
	if res.QueueBusy {
		output.Warning("another sync is already running; drafts were not flushed")
	}
	line := fmt.Sprintf("synced %d, failed %d", res.Drafts.Synced, res.Drafts.Failed)
	if res.Drafts.Skipped > 0 {
		line += fmt.Sprintf(", skipped %d", res.Drafts.Skipped)
	}
	if res.Trigger != syncer.TriggerManual && res.Trigger != syncer.TriggerSave {
		line += fmt.Sprintf(", refreshed %d", res.Refreshed)
	}
	if res.Failed() > 0 {
		output.Warning("%s", line)
	} else {
		output.Success("%s", line)
	}
	for _, e := range res.Drafts.Errors {
		output.Info("  %s", e.Error())
	}
	for _, e := range res.RefreshErrors {
		output.Info("  %s", e.Error())
	}
}

func init() {
	rootCmd.AddCommand(draftCmd)
	draftCmd.AddCommand(draftSaveCmd, draftComposeCmd, draftListCmd, draftShowCmd, draftDeleteCmd, draftRetryCmd)

	for _, c := range []*cobra.Command{draftSaveCmd, draftComposeCmd} {
		c.Flags().String("course", "", "Course id")
		c.Flags().String("discussion", "", "Reply to this discussion id")
		c.Flags().Bool("offline", false, "Only queue; do not try to send now")
	}
	draftSaveCmd.Flags().String("title", "", "Discussion title")
	draftSaveCmd.Flags().String("body", "", "Post body (markdown)")
	draftSaveCmd.Flags().String("body-file", "", "Read the body from a file (- for stdin)")
	draftSaveCmd.Flags().Bool("anonymous", false, "Show Anonymous instead of your name")

	var status statusValue
	draftListCmd.Flags().Var(&status, "status", "Filter by status (draft, pending, synced, failed)")
	draftListCmd.Flags().String("course", "", "Filter by course id")
	draftListCmd.Flags().String("discussion", "", "Filter replies by discussion id")
	draftListCmd.Flags().Bool("json", false, "JSON output")

	draftShowCmd.Flags().Bool("json", false, "JSON output")
	draftRetryCmd.Flags().Bool("now", false, "Send immediately after resetting")
}
