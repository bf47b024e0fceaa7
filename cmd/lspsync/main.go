// Command lspsync drives a language service through the adapter: it
// negotiates features, fetches semantic tokens and watches workspaces for
// resource change sessions.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucacox/go-lspsync/internal/logging"
	"github.com/lucacox/go-lspsync/pkg/config"
	"github.com/lucacox/go-lspsync/pkg/protocol"
	_ "github.com/lucacox/go-lspsync/pkg/transport/stdio"
)

var version = "dev"

var (
	configPath string
	logLevel   string

	// transportRegistry is replaced in tests
	transportRegistry = protocol.DefaultTransportRegistry
)

var rootCmd = &cobra.Command{
	Use:   "lspsync",
	Short: "Synchronise document features with a language service",
	Long: `lspsync negotiates semantic tokens and resource change sessions with a
language service started from the configuration file.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("lspsync version %s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, closeLog, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer closeLog()

		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		cmd.Print(string(data))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "lspsync.toml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the configuration and builds the logger factory it
// describes. The returned function closes the log file, if any.
func loadConfig(cmd *cobra.Command) (config.Config, *logging.LoggerFactory, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	var (
		w       io.Writer = cmd.ErrOrStderr()
		closeFn           = func() {}
	)
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return config.Config{}, nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
		closeFn = func() { _ = f.Close() }
	}

	lf := logging.NewLoggerFactoryWithConfig(w, level).UseJSON(cfg.Log.JSON)
	return cfg, lf, closeFn, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
