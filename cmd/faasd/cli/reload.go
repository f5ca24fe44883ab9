package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type reloadResponse struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	Generation    uint64 `json:"generation"`
	FailureReason string `json:"failureReason,omitempty"`
}

// NewReloadCommand returns the "reload" command, which drives a synchronous
// reload of a single function via the management RPC.
func NewReloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload <function>",
		Short: "Reload a function from its current source on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}

			var resp reloadResponse
			if err := c.post("/management/reload", map[string]string{"name": args[0]}, &resp); err != nil {
				return err
			}

			if resp.Status == "failed" {
				return fmt.Errorf("%s: %s", resp.Name, resp.FailureReason)
			}
			fmt.Printf("%s: %s (generation %d)\n", resp.Name, resp.Status, resp.Generation)
			return nil
		},
	}
	addPersistentFlags(cmd)
	return cmd
}
