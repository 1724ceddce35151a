package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"routerd/internal/command"
	"routerd/pkg/types"
)

func newRouteCmd() *cobra.Command {
	var (
		server     string
		messageLen int
		depth      int
		force      string
		rawJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Ask the daemon for a routing decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			hints := types.RouteHints{
				MessageLength:     messageLen,
				ConversationDepth: depth,
				ForceModel:        force,
			}
			body, err := json.Marshal(hints)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Post(server+"/route", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("daemon unreachable at %s: %w", server, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon returned %s", resp.Status)
			}
			var dec types.RouteDecision
			if err := json.NewDecoder(resp.Body).Decode(&dec); err != nil {
				return fmt.Errorf("decode decision: %w", err)
			}
			if rawJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(dec)
			}
			fmt.Fprint(cmd.OutOrStdout(), command.FormatDecision(dec))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&server, "server", envOr("ROUTERD_SERVER", "http://127.0.0.1:8090"), "Daemon base URL")
	f.IntVar(&messageLen, "message-length", 0, "Length of the pending message in characters")
	f.IntVar(&depth, "depth", 0, "Conversation depth in turns")
	f.StringVar(&force, "force", "", "Force a specific target, bypassing heuristics")
	f.BoolVar(&rawJSON, "json", false, "Print raw JSON instead of formatted text")
	return cmd
}
