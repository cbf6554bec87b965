package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpambassador/server/internal/app"
	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/pkg/logging"
)

var (
	serveHost       string
	servePort       int
	serveDataDir    string
	serveServerName string
	serveLogLevel   string
	serveConfigPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ambassador server",
	Long: `Starts the ambassador: opens the embedded store, loads the credential
master key, launches shared tool servers and the session lifecycle manager,
and serves the HTTPS API.

Configuration is read from --config (YAML) when given; flags override file
values. The server handles SIGINT/SIGTERM by stopping lifecycle timers,
flushing the audit trail, shutting down downstream connections, and closing
the store, in that order.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	// Flags override file values.
	if cmd.Flags().Changed("host") {
		cfg.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = serveDataDir
	}
	if cmd.Flags().Changed("server-name") {
		cfg.ServerName = serveServerName
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = serveLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stderr)

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := config.WatchLogLevel(ctx, serveConfigPath); err != nil {
		logging.Warn("Bootstrap", "Config watcher unavailable: %v", err)
	}

	return application.Run(ctx)
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", config.DefaultHost, "Host to bind to")
	serveCmd.Flags().IntVar(&servePort, "port", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", config.DefaultDataDir, "Data directory (store, keys, audit logs, certs)")
	serveCmd.Flags().StringVar(&serveServerName, "server-name", config.DefaultServerName, "Public server name used in OAuth redirect URIs")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
}
