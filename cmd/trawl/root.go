package main

import (
	"github.com/spf13/cobra"

	"github.com/praetorian-inc/trawl/pkg/config"
	"github.com/praetorian-inc/trawl/pkg/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	verbose    bool
	quiet      bool

	// settings holds the loaded config file, or defaults without one.
	settings = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "trawl",
	Short: "trawl - YARA-style signature scanner",
	Long: `trawl compiles YARA-style rules (text, hex and regex patterns with boolean
conditions) and scans files, directories and git history with them.

Results can be printed, exported as JSON or SARIF, and kept in a SQLite
store for incremental scans and later reports.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console, json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the config file and configures logging. Flags win over the
// file.
func setup(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		settings = cfg
	}

	level := settings.Log.Level
	switch {
	case logLevel != "":
		level = logLevel
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	}
	format := settings.Log.Output
	if logFormat != "" {
		format = logFormat
	}
	return logging.Configure(level, format, cmd.ErrOrStderr())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
