package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	serverrun "github.com/nikhi3632/Stroomweg/internal/cmd/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stroomweg",
		Short: "Stroomweg traffic data pipeline CLI",
		Long:  "Stroomweg ingests NDW traffic feeds into TimescaleDB and streams live measurements over SSE and WebSocket.",
	}

	var (
		configPath   string
		httpAddr     string
		pollInterval time.Duration
		logLevel     string
		logFormat    string
	)
	addCommonFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&configPath, "config", "", "path to JSON config file")
		cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")
		cmd.Flags().StringVar(&logFormat, "log-format", "", "log format: text|json")
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the ingestion pipeline and streaming API",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serverrun.Run(context.Background(), serverrun.Options{
				ConfigPath:   configPath,
				HTTPAddr:     httpAddr,
				PollInterval: pollInterval,
				LogLevel:     logLevel,
				LogFormat:    logFormat,
			})
		},
	}
	addCommonFlags(serverStartCmd)
	serverStartCmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (default :8080)")
	serverStartCmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "feed poll interval (default 60s)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	schemaCmd := &cobra.Command{Use: "schema", Short: "Database schema commands"}
	schemaInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serverrun.InitSchema(context.Background(), serverrun.Options{
				ConfigPath: configPath,
				LogLevel:   logLevel,
				LogFormat:  logFormat,
			})
		},
	}
	addCommonFlags(schemaInitCmd)
	schemaCmd.AddCommand(schemaInitCmd)
	rootCmd.AddCommand(schemaCmd)

	referenceCmd := &cobra.Command{Use: "reference", Short: "Site reference data commands"}
	referenceSyncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the reference payload once and refresh stored site data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serverrun.SyncReference(context.Background(), serverrun.Options{
				ConfigPath: configPath,
				LogLevel:   logLevel,
				LogFormat:  logFormat,
			})
		},
	}
	addCommonFlags(referenceSyncCmd)
	referenceCmd.AddCommand(referenceSyncCmd)
	rootCmd.AddCommand(referenceCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
