package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type functionSummary struct {
	Name          string   `json:"name"`
	Status        string   `json:"status"`
	Generation    uint64   `json:"generation"`
	Routes        []string `json:"routes"`
	Jobs          []string `json:"jobs"`
	FailureReason string   `json:"failureReason,omitempty"`
	LoadedAt      string   `json:"loadedAt"`
}

// NewListCommand returns the "list" command, which prints every function
// currently known to the registry.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}

			var functions []functionSummary
			if err := c.get("/management/list", &functions); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "NAME\tSTATUS\tGEN\tROUTES\tJOBS")
			for _, fn := range functions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", fn.Name, fn.Status, fn.Generation, len(fn.Routes), len(fn.Jobs))
			}
			return nil
		},
	}
	addPersistentFlags(cmd)
	return cmd
}
