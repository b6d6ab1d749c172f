package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ingest/internal/service"
)

func (c *cli) jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage sync jobs.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists sync jobs with their last run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := c.app.Sync().ListJobs()
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "Name", "Connector", "Trigger", "Incremental", "Last run", "Status"})
			for _, j := range jobs {
				trigger := j.TriggerType
				if j.TriggerConfig != "" {
					trigger += " " + j.TriggerConfig
				}
				t.AppendRow(table.Row{j.ID, j.Name, j.Connector, trigger, j.Incremental, formatTime(j.LastRunAt), j.LastStatus})
			}
			t.Render()
			return nil
		},
	})
	cmd.AddCommand(c.jobCreateCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Deletes a job with its run history and checkpoint.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Sync().DeleteJob(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <id>",
		Short: "Forgets a job's checkpoint so the next incremental run starts from its initial sync start.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Sync().ResetJob(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(c.jobLogsCmd())
	return cmd
}

func (c *cli) jobCreateCmd() *cobra.Command {
	var (
		in         service.CreateJobInput
		sources    map[string]string
		transforms string
		disabled   bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Creates a sync job and prints its ID.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.SourceConfig = anyMap(sources)
			in.Enabled = !disabled
			if transforms != "" {
				if err := json.Unmarshal([]byte(transforms), &in.Transforms); err != nil {
					return fmt.Errorf("parse --transforms: %w", err)
				}
			}
			job, err := c.app.Sync().CreateJob(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "job name (defaults to the connector name)")
	f.StringVar(&in.Connector, "connector", "", "connector preset (required)")
	f.StringVar(&in.DestinationID, "destination", "", "destination ID (required)")
	f.StringVar(&in.RootTable, "root-table", "", "override the connector's root table")
	f.StringVar(&in.SourceType, "source-type", "", "override the connector's source type")
	f.StringToStringVar(&sources, "source", nil, "source config override, key=value (repeatable)")
	f.StringVar(&transforms, "transforms", "", `JSON array of transforms, e.g. [{"type":"inject","config":{"fields":{"restaurant_guid":"r1"}}}]`)
	f.BoolVar(&in.Incremental, "incremental", false, "read in 30-day windows from the last checkpoint")
	f.StringVar(&in.InitialSyncStart, "initial-sync-start", "", "first window start for incremental jobs")
	f.BoolVar(&in.Dedupe, "dedupe", false, "drop repeated primary keys within one run")
	f.StringVar(&in.TriggerType, "trigger", "", "manual | schedule | file_watch")
	f.StringVar(&in.TriggerConfig, "trigger-config", "", "cron expression or watched file path")
	f.BoolVar(&disabled, "disabled", false, "create the job without arming its trigger")
	cmd.MarkFlagRequired("connector")
	cmd.MarkFlagRequired("destination")
	return cmd
}

func (c *cli) jobLogsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Shows a job's recent runs, newest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := c.app.Sync().ListRunLogs(args[0], limit)
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Started", "Duration", "Status", "Read", "Failed", "Written", "Deleted", "Error"})
			for _, l := range logs {
				t.AppendRow(table.Row{
					formatTime(l.StartedAt), l.FinishedAt.Sub(l.StartedAt).Round(time.Millisecond), l.Status,
					l.RecordsRead, l.RecordsFailed, l.RowsWritten, l.RowsDeleted, l.Error,
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
