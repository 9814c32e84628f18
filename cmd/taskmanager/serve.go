package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/task-manager/internal/server"
)

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the web interface and JSON API.

Examples:
  taskmanager serve
  taskmanager serve --port 9000
  TASKMANAGER_AUTH_JWT_SECRET=$(openssl rand -hex 32) taskmanager serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			logger := newLogger(cfg)
			slog.SetDefault(logger)

			srv, err := server.New(cfg, logger)
			if err != nil {
				return err
			}
			// Start blocks until SIGINT/SIGTERM.
			return srv.Start()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "listen port (overrides config)")
	return cmd
}
