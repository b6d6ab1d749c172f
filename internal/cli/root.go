package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ingest/internal/app"
	"ingest/internal/config"
	"ingest/internal/service"
)

// cli holds the state shared by every command of one invocation.
type cli struct {
	envPath string
	app     *app.App
}

// NewRootCmd builds the ingest command tree.
func NewRootCmd() (*cobra.Command, func() error) {
	c := &cli{}
	root := &cobra.Command{
		Use:           "ingest",
		Short:         "ingest decomposes nested API payloads into relational tables and syncs them to a destination.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open()
		},
	}
	root.PersistentFlags().StringVar(&c.envPath, "env", ".env", "optional dotenv file with INGEST_* settings")

	root.AddCommand(
		c.connectorsCmd(),
		c.flattenCmd(),
		c.previewCmd(),
		c.destinationsCmd(),
		c.jobsCmd(),
		c.syncCmd(),
		c.serveCmd(),
		c.mcpCmd(),
		c.approvalsCmd(),
	)
	return root, c.close
}

func (c *cli) open() error {
	if c.app != nil {
		return nil
	}
	cfg, err := config.Load(c.envPath)
	if err != nil {
		return err
	}
	a, err := app.New(cfg, service.LogNotifier{})
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

// ExecuteContext runs the command line and exits non-zero on failure.
func ExecuteContext(ctx context.Context) {
	root, closeApp := NewRootCmd()
	err := root.ExecuteContext(ctx)
	if cerr := closeApp(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}
