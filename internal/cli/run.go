package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <job-id>",
		Short: "Runs a sync job once and prints the result.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.Sync().RunJob(cmd.Context(), args[0])
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: read %d, failed %d, written %d, deleted %d, windows %d in %s\n",
					res.Status, res.RecordsRead, res.RecordsFailed, res.RowsWritten, res.RowsDeleted, res.Windows, res.Duration)
			}
			return err
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs scheduled and file-watch jobs until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Serve(cmd.Context())
		},
	}
}

func (c *cli) mcpCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serves the MCP tools on stdin/stdout.",
		Long: `Serves the MCP tools on stdin/stdout. Destructive tools wait until
an operator resolves them with "ingest approvals" unless --yes is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.ServeMCP(cmd.Context(), yes)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "approve destructive tools without asking")
	return cmd
}
