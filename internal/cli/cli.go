// ============================================================================
// mwctl CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra based command line for the master/worker framework
//
// Command Structure:
//   mwctl                          # Root command
//   ├── master                     # Accept N workers over gRPC and run the control loop
//   │   ├── --listen               # Override master.listen
//   │   ├── --workers              # Override master.workers
//   │   └── --resume               # Continue from the checkpoint
//   ├── worker                     # Attach to a master and serve one data part
//   │   ├── --master               # Override worker.master
//   │   └── --part                 # Index of the part in the VDS file
//   ├── cluster write|show         # Cluster description files
//   ├── vds generate|show          # Dataset description files
//   ├── domains                    # Print the work tiles of each part
//   ├── status                     # Checkpoint and journal summary
//   ├── --config, -c               # YAML config file (empty = built-in defaults)
//   └── --version / --help
//
// Configuration Management:
//   YAML config file, every section optional:
//   - master: listen address, expected worker count, iteration budget, read mode
//   - worker: master address, work types reported at init
//   - data: cluster / vds / strategy file paths
//   - checkpoint, journal: state file and round journal paths
//   - metrics: Prometheus + /status HTTP endpoint
//   - transport: gRPC message size limit
//   - log: slog level
//
// Signal Handling:
//   master and worker run under a context cancelled by SIGINT / SIGTERM.
//   The master then sends quit to every worker before returning.
//
// Error Handling:
//   Every RunE returns its error; main prints it to stderr and exits 1.
//
// ============================================================================

package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config represents the complete mwctl configuration
// Maps config file fields through YAML tags
type Config struct {
	Master struct {
		Listen        string `yaml:"listen"`
		Workers       int    `yaml:"workers"`
		MaxIterations int    `yaml:"max_iterations"`
		ReadMode      string `yaml:"read_mode"`
	} `yaml:"master"`

	Worker struct {
		Master    string  `yaml:"master"`
		WorkTypes []int32 `yaml:"work_types"`
	} `yaml:"worker"`

	Data struct {
		Cluster  string `yaml:"cluster"`
		Vds      string `yaml:"vds"`
		Strategy string `yaml:"strategy"`
	} `yaml:"data"`

	Checkpoint struct {
		Path string `yaml:"path"`
	} `yaml:"checkpoint"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Transport struct {
		MaxMessageBytes int `yaml:"max_message_bytes"`
	} `yaml:"transport"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Master.Listen = ":50051"
	cfg.Master.MaxIterations = 20
	cfg.Master.ReadMode = "sequential"
	cfg.Worker.Master = "localhost:50051"
	cfg.Worker.WorkTypes = []int32{1}
	cfg.Metrics.Port = 9090
	cfg.Log.Level = "info"
	return cfg
}

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mwctl",
		Short: "mwctl: master/worker iterative solver control",
		Long: `mwctl runs a master that drives a set of workers through
rounds of step execution over gRPC:
- one master, N workers, one connection per worker
- deterministic merge order regardless of reply arrival
- checkpoint / resume and a round journal
- Prometheus metrics and a JSON status endpoint`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (empty = built-in defaults)")

	rootCmd.AddCommand(buildMasterCommand())
	rootCmd.AddCommand(buildWorkerCommand())
	rootCmd.AddCommand(buildClusterCommand())
	rootCmd.AddCommand(buildVdsCommand())
	rootCmd.AddCommand(buildDomainsCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// loadConfig reads path over the defaults; an empty path returns the defaults
func loadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// setupLogging installs a text slog handler on stderr at the configured level
func setupLogging(level string) error {
	var l slog.Level
	switch strings.ToLower(level) {
	case "", "info":
		l = slog.LevelInfo
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

// prepare loads the config and configures logging; shared by every
// subcommand that needs the config.
func prepare() (*Config, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := setupLogging(cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}
