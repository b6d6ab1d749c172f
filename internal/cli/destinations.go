package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ingest/internal/domain"
)

func (c *cli) destinationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destinations",
		Short: "Manage the destinations sync jobs write to.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists destinations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.app.Sync().ListDestinations()
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "Name", "Driver", "Host", "Database"})
			for _, d := range list {
				t.AppendRow(table.Row{d.ID, d.Name, d.Driver, d.Host, d.Database})
			}
			t.Render()
			return nil
		},
	})
	cmd.AddCommand(c.destinationAddCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Deletes a destination.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Sync().DeleteDestination(args[0])
		},
	})
	return cmd
}

func (c *cli) destinationAddCmd() *cobra.Command {
	var (
		d      domain.DestinationConnection
		driver string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Adds a destination. Passwords are read from the environment, never from flags.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d.Driver = domain.DestinationDriver(driver)
			if err := c.app.Sync().CreateDestination(&d, ""); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, d.ID)
			switch d.Driver {
			case domain.DestinationDriverMySQL, domain.DestinationDriverPostgres, domain.DestinationDriverMongoDB, domain.DestinationDriverDynamoDB:
				fmt.Fprintf(cmd.ErrOrStderr(), "set %s to the destination's password\n", c.app.SecretVar(d.ID))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&d.Name, "name", "", "destination name (required)")
	f.StringVar(&driver, "driver", "", "sqlite | mysql | postgres | mongodb | dynamodb | memory (required)")
	f.StringVar(&d.Host, "host", "", "host, sqlite file path, mongodb URI or dynamodb endpoint")
	f.IntVar(&d.Port, "port", 0, "port (0 for the driver default)")
	f.StringVar(&d.Database, "database", "", "database name, or table name for dynamodb")
	f.StringVar(&d.Username, "user", "", "user, or AWS access key id for dynamodb")
	f.StringVar(&d.SSLMode, "ssl-mode", "", "postgres sslmode")
	f.StringVar(&d.Region, "region", "", "AWS region for dynamodb")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("driver")
	return cmd
}
