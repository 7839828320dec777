// ============================================================================
// Scheduler Demo CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides a user-friendly command line interface, based on the
// Cobra framework, around the cooperative request scheduler
// (internal/scheduler).
//
// Command Structure:
//   scheduler-demo                  # Root command
//   ├── run                         # Reset the pool and run the demo workload
//   │   └── --config, -c           # Specify config file
//   ├── version                     # Display version information
//   └── --help                      # Display help information
//
// Configuration Management:
//   Uses a YAML config file (default: configs/default.yaml):
//   - scheduler.workers: worker goroutine count (0 selects debug/synchronous mode)
//   - demo.width / demo.depth: shape of the fan-out/fan-in tree
//   - metrics.enabled / metrics.port: Prometheus /metrics endpoint
//
// run Command:
//   1. Load the config file
//   2. Reset the global worker pool with the configured worker count
//   3. Start the metrics HTTP server, if enabled
//   4. Run the fan-out/fan-in demo workload and print a summary
//   5. Shut the pool down cleanly
//
//   Examples:
//     ./scheduler-demo run
//     ./scheduler-demo run -c custom-config.yaml
//
// Metrics Service:
//   If enabled in config, starts an HTTP server in a separate goroutine:
//   - Port: metrics.port (configs/default.yaml sets 9090; no code default)
//   - Path: /metrics
//   - Format: Prometheus text exposition
//
// ============================================================================

package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/lazyscheduler/internal/demo"
	"github.com/ChuLiYu/lazyscheduler/internal/metrics"
	"github.com/ChuLiYu/lazyscheduler/internal/scheduler"
)

// Config is the complete demo configuration structure, loaded from YAML.
type Config struct {
	Scheduler struct {
		Workers int `yaml:"workers"`
	} `yaml:"scheduler"`

	Demo struct {
		Width int `yaml:"width"`
		Depth int `yaml:"depth"`
	} `yaml:"demo"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

var configFile string

// BuildCLI assembles the root command and its subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scheduler-demo",
		Short: "scheduler-demo: a cooperative request scheduler demonstration",
		Long: `scheduler-demo drives internal/scheduler, a stackful-coroutine-style
cooperative request scheduler, through a configurable fan-out/fan-in workload
and reports the result and Prometheus metrics.`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildVersionCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reset the worker pool and run the fan-out/fan-in demo workload",
		Long:  "Load the config, reset the scheduler's worker pool, optionally serve /metrics, and run the demo workload to completion.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
	return cmd
}

func buildVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the scheduler-demo version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("scheduler-demo version 1.0.0")
			return nil
		},
	}
}

func runDemo() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := slog.Default()
	log.Info("starting scheduler-demo", "workers", cfg.Scheduler.Workers, "width", cfg.Demo.Width, "depth", cfg.Demo.Depth)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		go func() {
			log.Info("starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	pool := scheduler.ResetWorkerPoolWithMetrics(cfg.Scheduler.Workers, asSchedulerCollector(collector), log)
	defer pool.Shutdown()

	sum, count, err := demo.RunFanOutFanIn(cfg.Demo.Width, cfg.Demo.Depth)
	if err != nil {
		return fmt.Errorf("demo workload failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Scheduler demo complete:")
	fmt.Printf("  workers:        %d\n", cfg.Scheduler.Workers)
	fmt.Printf("  tree shape:     width=%d depth=%d\n", cfg.Demo.Width, cfg.Demo.Depth)
	fmt.Printf("  leaves visited: %d\n", count)
	fmt.Printf("  sum of leaves:  %d\n", sum)
	if cfg.Metrics.Enabled {
		fmt.Printf("  metrics:        http://localhost:%d/metrics\n", cfg.Metrics.Port)
	}
	fmt.Println()

	return nil
}

// asSchedulerCollector adapts a possibly-nil *metrics.Collector to the
// scheduler's Collector interface without the scheduler package needing to
// know about Prometheus at all (spec.md §6, "no network endpoints are part
// of the core contract").
func asSchedulerCollector(c *metrics.Collector) scheduler.Collector {
	if c == nil {
		return nil
	}
	return c
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if cfg.Demo.Width <= 0 {
		cfg.Demo.Width = 3
	}
	if cfg.Demo.Depth <= 0 {
		cfg.Demo.Depth = 4
	}

	return &cfg, nil
}
