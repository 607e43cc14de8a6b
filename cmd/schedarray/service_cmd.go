// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/markxbrooks/schedarray/pkg/config"
	"github.com/markxbrooks/schedarray/pkg/logging"

	"github.com/markxbrooks/schedarray/internal/service"
)

var (
	serviceMaxWorkers   int
	servicePollInterval time.Duration
	serviceHTTPAddr     string
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run or inspect the scheduling service",
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the dispatcher until interrupted",
	RunE:  runServiceStart,
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a service snapshot",
	RunE:  runServiceStatus,
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the service",
	RunE:  runServiceStop,
}

func init() {
	serviceStartCmd.Flags().IntVar(&serviceMaxWorkers, "max-workers", 0, "worker pool size (default from config/env)")
	serviceStartCmd.Flags().DurationVar(&servicePollInterval, "poll-interval", 0, "dispatcher wake interval (default from config/env)")
	serviceStartCmd.Flags().StringVar(&serviceHTTPAddr, "http-addr", "", "address for the optional read-only status/event endpoint, e.g. :8080")

	serviceCmd.AddCommand(serviceStartCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
	serviceCmd.AddCommand(serviceStopCmd)
}

func serviceConfig() *config.Config {
	cfg := config.NewDefault()
	cfg.DBPath = dbPath
	if serviceMaxWorkers > 0 {
		cfg.MaxWorkers = serviceMaxWorkers
	}
	if servicePollInterval > 0 {
		cfg.PollInterval = servicePollInterval
	}
	if serviceHTTPAddr != "" {
		cfg.HTTPAddr = serviceHTTPAddr
	}
	return cfg
}

func newServiceLogger(cfg *config.Config) logging.Logger {
	logConf := logging.DefaultConfig()
	switch cfg.LogLevel {
	case "debug":
		logConf.Level = slog.LevelDebug
	case "warn":
		logConf.Level = slog.LevelWarn
	case "error":
		logConf.Level = slog.LevelError
	}
	if cfg.Debug {
		logConf.Level = slog.LevelDebug
	}
	return logging.NewLogger(logConf)
}

// runServiceStart blocks until the service stops, exiting 130 if that stop
// was triggered by an interrupt/terminate signal rather than a clean call.
func runServiceStart(cmd *cobra.Command, args []string) error {
	cfg := serviceConfig()
	if err := cfg.Validate(); err != nil {
		return withExitCode(1, err)
	}

	svc, err := service.New(cfg, newServiceLogger(cfg), nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Start(cmd.Context()); err != nil {
		return err
	}

	svc.Wait()

	if svc.Interrupted() {
		return withExitCode(130, fmt.Errorf("interrupted"))
	}
	return nil
}

// runServiceStatus opens an independent handle on the same store and reports
// job counts and worker-slot state. Running-flag detection is in-process
// only: a separate invocation correctly reports running=false for its own
// dispatcher even while another process's service is active.
func runServiceStatus(cmd *cobra.Command, args []string) error {
	cfg := serviceConfig()

	svc, err := service.New(cfg, logging.NoOpLogger{}, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	status, err := svc.Status(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		return printOutput(status)
	}

	fmt.Printf("Running: %v\n", status.Running)
	fmt.Printf("Workers: %d\n", status.Workers.Total)
	for state, n := range status.Jobs {
		fmt.Printf("  %-10s  %d\n", state, n)
	}
	return nil
}

// runServiceStop is idempotent, matching Service.Stop: stopping a service
// this invocation never started is a no-op that still exits 0.
func runServiceStop(cmd *cobra.Command, args []string) error {
	cfg := serviceConfig()

	svc, err := service.New(cfg, logging.NoOpLogger{}, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Stop(); err != nil {
		return err
	}

	if jsonOutput {
		return printOutput(map[string]string{"status": "stopped"})
	}
	fmt.Println("Service stopped")
	return nil
}
