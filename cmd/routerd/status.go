package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"routerd/internal/command"
	"routerd/pkg/types"
)

func newStatusCmd() *cobra.Command {
	var (
		server  string
		rawJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show routing state from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Get(server + "/status")
			if err != nil {
				return fmt.Errorf("daemon unreachable at %s: %w", server, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon returned %s", resp.Status)
			}
			var st types.StatusResponse
			if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			if rawJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprint(cmd.OutOrStdout(), command.FormatStatus(st))
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", envOr("ROUTERD_SERVER", "http://127.0.0.1:8090"), "Daemon base URL")
	cmd.Flags().BoolVar(&rawJSON, "json", false, "Print raw JSON instead of formatted text")
	return cmd
}
