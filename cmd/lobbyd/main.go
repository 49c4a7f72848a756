// Package main provides the CLI entry point for the lanlobby directory
// daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcadenet/lanlobby/internal/config"
	"github.com/arcadenet/lanlobby/internal/directory"
	"github.com/arcadenet/lanlobby/internal/health"
	"github.com/arcadenet/lanlobby/internal/logging"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lobbyd",
		Short: "lobbyd - LAN lobby directory daemon",
		Long: `lobbyd is the authoritative account and presence directory for
lanlobby peers.

It serves line-delimited JSON requests over TCP, persists the account
registry to a JSON snapshot, and demotes accounts whose heartbeats go
stale.`,
		Version: Version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string
	var address string
	var dataDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the directory daemon",
		Long:  "Start the directory daemon with the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Directory.Address = address
			}
			if dataDir != "" {
				cfg.Directory.DataDir = dataDir
			}

			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			store, err := directory.Open(cfg.Directory.DataDir, directory.StoreOptions{
				Logger: logger,
			})
			if err != nil {
				return fmt.Errorf("failed to open account store: %w", err)
			}

			reaper := directory.NewReaper(store, directory.ReaperConfig{
				Interval:           cfg.Directory.ReapInterval,
				StalenessThreshold: cfg.Directory.StalenessThreshold,
			}, nil, logger)
			reaper.Start()

			server := directory.NewServer(store, logger, nil)
			if err := server.Start(cfg.Directory.Address); err != nil {
				reaper.Stop()
				return fmt.Errorf("failed to start directory server: %w", err)
			}

			fmt.Printf("Directory listening on %s\n", server.Addr())

			var healthSv *health.Server
			if cfg.Health.Enabled {
				healthSv = health.NewServer(health.ServerConfig{
					Address:      cfg.Health.Address,
					ReadTimeout:  cfg.Health.ReadTimeout,
					WriteTimeout: cfg.Health.WriteTimeout,
				}, server)
				if err := healthSv.Start(); err != nil {
					server.Stop(context.Background())
					reaper.Stop()
					return fmt.Errorf("failed to start health server: %w", err)
				}
				fmt.Printf("Health endpoints on %s\n", healthSv.Address())
			}

			stats := server.Stats()
			fmt.Printf("Status: running (accounts: %d, online: %d)\n", stats.Accounts, stats.Online)

			// Wait for shutdown signal
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			sig := <-sigCh
			fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if healthSv != nil {
				if err := healthSv.Stop(); err != nil {
					logger.Warn("health server shutdown error", logging.KeyError, err)
				}
			}
			if err := server.Stop(ctx); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}
			reaper.Stop()

			fmt.Println("Directory stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&address, "address", "a", "", "TCP listen address (overrides config)")
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "Directory for the account snapshot (overrides config)")

	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration",
		Long:  "Print the default configuration as YAML, suitable as a starting point.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.Default().String())
			return nil
		},
	}
}

// loadConfig reads the config file when given, defaults otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
