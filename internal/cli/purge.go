package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"resty.dev/v3"

	"defisync/internal/api"
	"defisync/internal/protocol"
)

const defaultServerURL = "http://127.0.0.1:8484"

func newPurgeCmd() *cobra.Command {
	names := []string{"all"}
	for _, m := range protocol.Modules() {
		names = append(names, m.String())
	}

	cmd := &cobra.Command{
		Use:   "purge <module|all>",
		Short: "Purge the data of a module held by a running server",
		Long: fmt.Sprintf(`Purge clears the data a running "defisync serve" holds for a module and puts
its sections back to the not-loaded state, so the next fetch loads it again.

Modules: %s`, strings.Join(names, ", ")),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := protocol.ParseModule(args[0])
			if err != nil {
				return err
			}

			server, err := cmd.Flags().GetString("server")
			if err != nil {
				return err
			}

			client := resty.New().SetBaseURL(server)
			defer client.Close()

			var result api.PurgeResponse
			resp, err := client.R().
				SetContext(cmd.Context()).
				SetPathParam("module", m.String()).
				SetResult(&result).
				Post("/purge/{module}")
			if err != nil {
				return fmt.Errorf("failed to reach %s: %w", server, err)
			}
			if !resp.IsSuccess() {
				var failure api.ErrorResponse
				if json.Unmarshal([]byte(resp.String()), &failure) != nil || failure.Error == "" {
					failure.Error = resp.Status()
				}
				return fmt.Errorf("purge %s failed (status %d): %s", m, resp.StatusCode(), failure.Error)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", result.Module)
			return err
		},
	}

	cmd.Flags().String("server", defaultServerURL, "Base URL of the running defisync server")
	return cmd
}
