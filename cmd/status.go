package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/internal/store"
)

var statusDataDir string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog and session state from the local data directory",
	Long: `Inspects the embedded store directly and prints the tool-server catalog
and current sessions. Works whether or not the server is running; live
connection state is only visible to the running server process.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	st, err := store.Open(filepath.Join(statusDataDir, "ambassador.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	catalog := table.NewWriter()
	catalog.SetOutputMirror(os.Stdout)
	catalog.SetTitle("Tool Server Catalog")
	catalog.AppendHeader(table.Row{"Name", "Transport", "Isolation", "Auth", "Status"})
	for _, isolation := range []string{store.IsolationShared, store.IsolationPerUser} {
		entries, err := st.ListPublishedByIsolation(ctx, isolation)
		if err != nil {
			return err
		}
		for _, e := range entries {
			catalog.AppendRow(table.Row{e.Name, e.Transport, e.Isolation, e.AuthType, e.Status})
		}
	}
	catalog.Render()

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Sessions")
	tw.AppendHeader(table.Row{"Session", "User", "Status", "Last Activity", "Expires"})
	for _, sess := range sessions {
		tw.AppendRow(table.Row{
			sess.ID[:8], sess.UserID[:8], sess.Status,
			sess.LastActivityAt.Format("2006-01-02 15:04:05"),
			sess.ExpiresAt.Format("2006-01-02 15:04:05"),
		})
	}
	tw.Render()

	fmt.Printf("\n%d session(s), data dir %s\n", len(sessions), statusDataDir)
	return nil
}

func init() {
	statusCmd.Flags().StringVar(&statusDataDir, "data-dir", config.DefaultDataDir, "Data directory")
	rootCmd.AddCommand(statusCmd)
}
