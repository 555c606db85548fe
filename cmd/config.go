package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/coursesync/internal/config"
	"github.com/marcus/coursesync/internal/output"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Read and change settings",
	GroupID: "system",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one value from config.json",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := config.Dir()
		if err != nil {
			return err
		}
		cfg, err := config.Load(dir)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		v, err := cfg.Get(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Set a value in config.json (no value clears it)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := config.Dir()
		if err != nil {
			return err
		}
		value := ""
		if len(args) == 2 {
			value = args[1]
		}
		err = config.Update(dir, func(cfg *config.Config) error {
			return cfg.Set(args[0], value)
		})
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if value == "" {
			output.Success("CLEARED %s", args[0])
		} else {
			output.Success("SET %s", args[0])
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show effective settings (env > file > default)",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := config.Dir()
		if err != nil {
			return err
		}
		cfg, err := config.Load(dir)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		s := config.Resolve(cfg, dir)

		secret, discord := "", ""
		if s.WebhookSecret != "" {
			secret = "(set)"
		}
		if s.DiscordURL != "" {
			discord = "(set)"
		}
		rows := []struct{ key, value string }{
			{"config_dir", dir},
			{"server_url", s.ServerURL},
			{"user_id", s.UserID},
			{"role", string(s.Role)},
			{"store", s.Store},
			{"data_dir", s.DataDir},
			{"max_retry", fmt.Sprint(s.MaxRetry)},
			{"grace_period", s.GracePeriod.String()},
			{"cache_ttl", s.CacheTTL.String()},
			{"probe_interval", s.ProbeInterval.String()},
			{"webhook.url", s.WebhookURL},
			{"webhook.secret", secret},
			{"webhook.discord", discord},
		}
		w := cmd.OutOrStdout()
		for _, r := range rows {
			fmt.Fprintf(w, "%-15s %s\n", r.key, r.value)
		}
		for _, t := range s.Watch {
			fmt.Fprintf(w, "%-15s %s/%s\n", "watch", t.CourseID, t.Kind)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd)
}
