package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fllarpy/callprobe/config"
	"github.com/fllarpy/callprobe/internal/logutil"
)

var (
	// Global flags
	configFile string
	logLevel   string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "callprobe",
	Short: "Call-tree profiler for Go services",
	Long: `callprobe records one call tree per request: every monitored call with
its inclusive and self time, plus the IO calls (SQL statements, outgoing HTTP
requests) made under it.

Trees are kept in memory, checked for N+1 queries and reported to the log,
OpenTelemetry or Kafka depending on the configuration.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		if err := logutil.ConfigureLogger(loaded.LogLevel, loaded.LogFormat); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Directory holding config.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	binName := filepath.Base(os.Args[0])
	rootCmd.Example = `  # Print the call tree of a simulated request
  ` + binName + ` demo

  # Serve sample endpoints with the probe installed
  ` + binName + ` serve -c ./deploy`
}
