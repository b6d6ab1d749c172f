package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ingest/internal/connectors"
	"ingest/internal/service"
)

func (c *cli) connectorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connectors",
		Short: "Inspect connector presets.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists built-in and YAML connector presets.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Name", "Root table", "Source", "Tables", "Description"})
			for _, conn := range c.app.Sync().ListConnectors() {
				t.AppendRow(table.Row{conn.Name, conn.RootTable, conn.SourceType, len(conn.Tables), conn.Description})
			}
			t.Render()
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Prints a connector's declarations as YAML.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connectors.Get(args[0])
			if err != nil {
				return err
			}
			data, err := connectors.Marshal(conn)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}

func (c *cli) flattenCmd() *cobra.Command {
	var connector, tableName string
	cmd := &cobra.Command{
		Use:   "flatten [file]",
		Short: "Decomposes a JSON payload into rows, one JSON line per row. Reads stdin without a file.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			cfg := c.app.Config()
			rows, err := service.FlattenPayload(connector, tableName, in, nil, cfg.MaxDepth)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range rows {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&connector, "connector", "", "connector preset (required)")
	cmd.Flags().StringVar(&tableName, "table", "", "table of the payload's root objects (defaults to the connector's root)")
	cmd.MarkFlagRequired("connector")
	return cmd
}

func (c *cli) previewCmd() *cobra.Command {
	var (
		in      service.PreviewInput
		sources map[string]string
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Reads the first records of a connector's source and prints their rows without writing anything.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.SourceConfig = anyMap(sources)
			rows, err := c.app.Sync().Preview(cmd.Context(), in)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range rows {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d rows\n", len(rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Connector, "connector", "", "connector preset (required)")
	cmd.Flags().StringVar(&in.SourceType, "source-type", "", "override the connector's source type")
	cmd.Flags().StringVar(&in.RootTable, "root-table", "", "override the connector's root table")
	cmd.Flags().StringToStringVar(&sources, "source", nil, "source config override, key=value (repeatable)")
	cmd.Flags().IntVar(&in.MaxRecords, "max", 0, "number of root records to read")
	cmd.MarkFlagRequired("connector")
	return cmd
}

func anyMap(m map[string]string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
