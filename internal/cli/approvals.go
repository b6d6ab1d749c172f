package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func (c *cli) approvalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Resolve destructive actions requested over MCP.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists actions waiting for a decision.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := c.app.PendingApprovals()
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "Tool", "Description", "Requested"})
			for _, p := range pending {
				t.AppendRow(table.Row{p.ID, p.Tool, p.Description, p.CreatedAt})
			}
			t.Render()
			return nil
		},
	})
	for _, decision := range []struct {
		use, short string
		approved   bool
	}{
		{"approve <id>", "Approves a pending action.", true},
		{"reject <id>", "Rejects a pending action.", false},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   decision.use,
			Short: decision.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.app.ResolveApproval(args[0], decision.approved)
			},
		})
	}
	return cmd
}
