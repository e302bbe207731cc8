package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	browsercmd "github.com/rzbill/flolog/internal/cmd/browser"
	clientcmd "github.com/rzbill/flolog/internal/cmd/client"
	serverrun "github.com/rzbill/flolog/internal/cmd/server"
	cfgpkg "github.com/rzbill/flolog/internal/config"
	pebblestore "github.com/rzbill/flolog/internal/storage/pebble"
	logpkg "github.com/rzbill/flolog/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	// Respect FLO_LOG_LEVEL for CLI output.
	level := os.Getenv("FLO_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "flo",
		Short: "flolog shared log CLI",
		Long:  "flolog is a distributed shared log. This CLI runs nodes, inspects their data and talks to running clusters.",
	}

	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(browsercmd.NewCommand(logger))
	for _, c := range clientcmd.Commands(apiURL) {
		rootCmd.AddCommand(c)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServerCommand() *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a flolog node (gRPC and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			fsyncMode, _ := cmd.Flags().GetString("fsync")

			mode, err := pebblestore.ParseFsyncMode(fsyncMode)
			if err != nil {
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}
			cfg, err := cfgpkg.Load(cfgPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			flags := cmd.Flags()
			if flags.Changed("endpoint") {
				cfg.Node.Endpoint, _ = flags.GetString("endpoint")
			}
			if flags.Changed("grpc") {
				cfg.Node.GRPCAddr, _ = flags.GetString("grpc")
			}
			if flags.Changed("http") {
				cfg.Node.HTTPAddr, _ = flags.GetString("http")
			}
			if flags.Changed("peers") {
				cfg.Cluster.Peers, _ = flags.GetStringSlice("peers")
			}
			if flags.Changed("log-level") {
				cfg.Logging.Level, _ = flags.GetString("log-level")
			}
			if flags.Changed("log-format") {
				cfg.Logging.Format, _ = flags.GetString("log-format")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{DataDir: dataDir, Fsync: mode, Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	startCmd.Flags().String("config", os.Getenv("FLO_CONFIG"), "Config file (JSON or YAML)")
	startCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	startCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	startCmd.Flags().String("endpoint", "", "Address peers use to reach this node")
	startCmd.Flags().String("grpc", "", "gRPC listen address")
	startCmd.Flags().String("http", "", "HTTP listen address")
	startCmd.Flags().StringSlice("peers", nil, "Cluster members (endpoints), including this node")
	startCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	startCmd.Flags().String("log-format", "", "Log format: text|json")
	serverCmd.AddCommand(startCmd)
	return serverCmd
}

func apiURL() string {
	if v := os.Getenv("FLO_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:9001"
}
