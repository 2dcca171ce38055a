package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flitsinc/go-backlog/internal/engine"
	"github.com/flitsinc/go-backlog/internal/render"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Inspect and rebuild workspace boards",
}

var boardRebuildCmd = &cobra.Command{
	Use:   "rebuild [workspace]",
	Short: "Reconcile a workspace board with its sinks",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return errors.New("pass a workspace or --all")
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		var results []engine.BoardResult
		if all {
			results, err = a.engine.ReconcileAll(cmd.Context())
		} else {
			var res engine.BoardResult
			res, err = a.engine.RebuildBoard(cmd.Context(), args[0])
			results = append(results, res)
		}
		for _, res := range results {
			fmt.Printf("%s\tchannel=%s\twebhook=%s\n", res.WorkspaceID, res.Channel.Outcome, res.Webhook.Outcome)
		}
		return err
	},
}

var boardShowCmd = &cobra.Command{
	Use:   "show <workspace>",
	Short: "Print the stored board reference and the rendered board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		board, found, err := a.store.Boards().Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		acts, err := a.store.Activities().List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"found": found, "board": board, "preview": render.Board(acts)})
		}
		if !found {
			fmt.Println("no board reference stored")
		} else {
			fmt.Printf("channel=%s channel_message=%s webhook_message=%s\n", board.ChannelID, board.ChannelMessageID, board.WebhookMessageID)
		}
		fmt.Println()
		fmt.Println(render.BoardDescription(acts))
		return nil
	},
}

func init() {
	boardRebuildCmd.Flags().Bool("all", false, "rebuild every workspace with activities")
	boardShowCmd.Flags().Bool("json", false, "print JSON")
	boardCmd.AddCommand(boardRebuildCmd, boardShowCmd)
}
