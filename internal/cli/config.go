package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dl-alexandre/ocsync/internal/config"
	"github.com/dl-alexandre/ocsync/internal/types"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing ocsync configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current configuration settings",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value. Keys:
  defaultConnection, defaultOutputFormat, excludeFile, pollInterval,
  fullSyncEvery, useWatcher, maxTimeSkew, concurrency, requestTimeout,
  logLevel, logFile, colorOutput`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to defaults",
	Long:  "Reset all settings to their default values. Connections are kept.",
	RunE:  runConfigReset,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	cfg, err := config.LoadFrom(flags.Config)
	if err != nil {
		return out.WriteError("config.show", utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
	}

	if flags.OutputFormat == types.OutputFormatTable {
		return out.WriteSuccess("config.show", configTable(cfg))
	}
	return out.WriteSuccess("config.show", cfg)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	key := args[0]
	value := args[1]

	cfg, err := config.LoadFrom(flags.Config)
	if err != nil {
		return out.WriteError("config.set", utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
	}

	if err := setConfigValue(cfg, key, value); err != nil {
		return out.WriteError("config.set", utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
	}

	if err := cfg.Save(flags.Config); err != nil {
		return out.WriteError("config.set", utils.NewCLIError(utils.ErrCodeInvalidConfig,
			fmt.Sprintf("Failed to save configuration: %v", err)).Build())
	}

	out.Log("Configuration updated: %s = %s", key, value)
	return out.WriteSuccess("config.set", map[string]string{
		"key":   key,
		"value": value,
	})
}

// setConfigValue assigns one key. Range checks are left to Config.Validate
// on save, except where the value does not parse at all.
func setConfigValue(cfg *config.Config, key, value string) error {
	atoi := func(name string) (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", name)
		}
		return n, nil
	}

	var err error
	switch strings.ToLower(key) {
	case "defaultconnection":
		cfg.DefaultConnection = value
	case "defaultoutputformat":
		if value != string(types.OutputFormatJSON) && value != string(types.OutputFormatTable) {
			return fmt.Errorf("invalid output format, must be 'json' or 'table'")
		}
		cfg.DefaultOutputFormat = types.OutputFormat(value)
	case "excludefile":
		cfg.ExcludeFile = value
	case "pollinterval":
		cfg.PollInterval, err = atoi("poll interval")
	case "fullsyncevery":
		cfg.FullSyncEvery, err = atoi("full sync interval")
	case "usewatcher":
		cfg.UseWatcher = parseBool(value)
	case "maxtimeskew":
		cfg.MaxTimeSkew, err = atoi("max time skew")
	case "concurrency":
		cfg.Concurrency, err = atoi("concurrency")
	case "requesttimeout":
		cfg.RequestTimeout, err = atoi("request timeout")
	case "loglevel":
		cfg.LogLevel = strings.ToLower(value)
	case "logfile":
		cfg.LogFile = value
	case "coloroutput":
		cfg.ColorOutput = parseBool(value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	if !confirm("Reset all settings to defaults?", flags.Yes) {
		return out.WriteError("config.reset", utils.NewCLIError(utils.ErrCodeCancelled, "Reset cancelled").Build())
	}

	cfg := config.DefaultConfig()
	if old, err := config.LoadFrom(flags.Config); err == nil {
		cfg.DefaultConnection = old.DefaultConnection
		cfg.Connections = old.Connections
	}
	if err := cfg.Save(flags.Config); err != nil {
		return out.WriteError("config.reset", utils.NewCLIError(utils.ErrCodeInvalidConfig,
			fmt.Sprintf("Failed to reset configuration: %v", err)).Build())
	}

	out.Log("Configuration reset to defaults")
	return out.WriteSuccess("config.reset", cfg)
}

func configTable(cfg *config.Config) map[string]string {
	t := map[string]string{
		"defaultConnection":   cfg.DefaultConnection,
		"defaultOutputFormat": string(cfg.DefaultOutputFormat),
		"excludeFile":         cfg.ExcludeFile,
		"pollInterval":        strconv.Itoa(cfg.PollInterval),
		"fullSyncEvery":       strconv.Itoa(cfg.FullSyncEvery),
		"useWatcher":          strconv.FormatBool(cfg.UseWatcher),
		"maxTimeSkew":         strconv.Itoa(cfg.MaxTimeSkew),
		"concurrency":         strconv.Itoa(cfg.Concurrency),
		"requestTimeout":      strconv.Itoa(cfg.RequestTimeout),
		"logLevel":            cfg.LogLevel,
		"logFile":             cfg.LogFile,
		"colorOutput":         strconv.FormatBool(cfg.ColorOutput),
	}
	for name, conn := range cfg.Connections {
		t["connections."+name] = fmt.Sprintf("%s (user %s)", conn.URL, conn.User)
	}
	return t
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
