package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"defisync/internal/defi"
	"defisync/internal/status"
)

// fetchResult is printed by the fetch command
type fetchResult struct {
	Operation defi.Operation                  `json:"operation"`
	Ran       bool                            `json:"ran"`
	Status    map[status.Section]status.Status `json:"status"`
	Balances  defi.AllBalances                `json:"balances,omitempty"`
	Airdrops  defi.Airdrops                   `json:"airdrops,omitempty"`
}

func newFetchCmd(v *viper.Viper) *cobra.Command {
	names := make([]string, 0)
	for _, op := range defi.Operations() {
		names = append(names, string(op))
	}

	cmd := &cobra.Command{
		Use:       fmt.Sprintf("fetch [%s]", strings.Join(names, "|")),
		Short:     "Fetch DeFi data once and print it as JSON",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			op := defi.OperationAll
			if len(args) == 1 {
				parsed, err := defi.ParseOperation(args[0])
				if err != nil {
					return err
				}
				op = parsed
			}

			refresh, err := cmd.Flags().GetBool("refresh")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, v)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(ctx); err != nil {
					slog.Warn("Failed to release resources", "error", err)
				}
			}()

			ran, err := a.defi.Run(ctx, op, refresh)
			if err != nil {
				return err
			}

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			if err := out.Encode(fetchResult{
				Operation: op,
				Ran:       ran,
				Status:    a.registry.Snapshot(),
				Balances:  a.defi.Balances(),
				Airdrops:  a.defi.Airdrops(),
			}); err != nil {
				return fmt.Errorf("failed to write result: %w", err)
			}

			if failed := a.notifications.List(); len(failed) > 0 {
				return fmt.Errorf("%d fetches failed, first: %s", len(failed), failed[0].Message)
			}
			return nil
		},
	}

	cmd.Flags().Bool("refresh", false, "Fetch again even if the data is already loaded")
	return cmd
}
