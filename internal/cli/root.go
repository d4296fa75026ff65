package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/dl-alexandre/ocsync/internal/config"
	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/types"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/dl-alexandre/ocsync/pkg/version"
	"github.com/spf13/cobra"
)

var (
	globalFlags types.GlobalFlags
	logger      logging.Logger
	// debugTransport is set when --debug is on and logs every WebDAV round trip.
	debugTransport *logging.DebugTransport
)

var rootCmd = &cobra.Command{
	Use:   "ocsync",
	Short: "ocsync - sync local folders with an ownCloud server",
	Long: `ocsync keeps local directories in sync with folders on an ownCloud
server over WebDAV. It can run a single sync pass or stay in the
background, polling folders and watching them for changes.

All commands support JSON output for automation and scripting.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateGlobalFlags(); err != nil {
			return err
		}

		logConfig := logging.LogConfig{
			Level:            logging.INFO,
			OutputFile:       globalFlags.LogFile,
			EnableConsole:    !globalFlags.Quiet,
			EnableDebug:      globalFlags.Debug,
			RedactSensitive:  true,
			ColorEnabled:     true,
			TimestampEnabled: true,
		}
		if cfg, err := config.LoadFrom(globalFlags.Config); err == nil {
			logConfig.Level = logging.ParseLogLevel(cfg.LogLevel)
			logConfig.ColorEnabled = cfg.ColorOutput
			if logConfig.OutputFile == "" {
				logConfig.OutputFile = cfg.LogFile
			}
		}
		if globalFlags.Verbose || globalFlags.Debug {
			logConfig.Level = logging.DEBUG
		}
		if globalFlags.OutputFormat == types.OutputFormatJSON && !globalFlags.Verbose && !globalFlags.Debug {
			logConfig.EnableConsole = false
		}

		var err error
		logger, debugTransport, err = logging.NewDebugLoggerWithTransport(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "Print the version, commit and build date of ocsync",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := GetGlobalFlags()
		if flags.OutputFormat == types.OutputFormatJSON {
			return NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose).WriteSuccess("version", version.Get())
		}
		fmt.Println(version.Get().String())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalFlags.Connection, "connection", "c", "", "Connection to use (default from config)")
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Log every HTTP request and response")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to log file")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Yes, "yes", "y", false, "Answer yes to all prompts")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")

	rootCmd.AddCommand(versionCmd)
}

func validateGlobalFlags() error {
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}

	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s", globalFlags.OutputFormat)
	}
	return nil
}

// Execute runs the root command and exits with the code of the first
// reported error.
func Execute() error {
	err := rootCmd.Execute()
	if err == nil {
		return nil
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		os.Exit(utils.GetExitCode(appErr.CLIError.Code))
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(utils.ExitUnknown)
	return nil
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() types.GlobalFlags {
	return globalFlags
}

// GetLogger returns the global logger
func GetLogger() logging.Logger {
	if logger == nil {
		return logging.NewNoOpLogger()
	}
	return logger
}
