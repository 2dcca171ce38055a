package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flitsinc/go-backlog/internal/backlog"
)

var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "List activities and change their status",
}

var activitiesListCmd = &cobra.Command{
	Use:   "list <workspace>",
	Short: "List the activities of a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		acts, err := a.store.Activities().List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if raw, _ := cmd.Flags().GetString("status"); raw != "" {
			status, err := backlog.ParseStatus(raw)
			if err != nil {
				return err
			}
			filtered := acts[:0]
			for _, act := range acts {
				if act.Status == status {
					filtered = append(filtered, act)
				}
			}
			acts = filtered
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(acts)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tTITLE")
		for _, act := range acts {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", act.ID, act.Status, act.Title)
		}
		return tw.Flush()
	},
}

var activitiesStatusCmd = &cobra.Command{
	Use:   "status <workspace> <activity-id> <open|in_progress|completed>",
	Short: "Change an activity's status and refresh its messages",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.engine.ChangeStatus(cmd.Context(), args[1], args[0], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\tmessage=%s\tboard_channel=%s\tboard_webhook=%s\n",
			res.Activity.ID, res.Activity.Status, res.Message.Outcome, res.Board.Channel.Outcome, res.Board.Webhook.Outcome)
		return nil
	},
}

func init() {
	activitiesListCmd.Flags().String("status", "", "only list activities with this status")
	activitiesListCmd.Flags().Bool("json", false, "print JSON")
	activitiesCmd.AddCommand(activitiesListCmd, activitiesStatusCmd)
}
