package cli

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dl-alexandre/ocsync/internal/api"
	"github.com/dl-alexandre/ocsync/internal/auth"
	"github.com/dl-alexandre/ocsync/internal/config"
	"github.com/dl-alexandre/ocsync/internal/types"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  "Manage server connections and their credentials",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to a server",
	Long: `Store the URL, user and password (or app token) of a connection.
The server is probed and the credentials are checked before anything is saved.`,
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Long:  "Delete stored credentials for the current or specified connection",
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Long:  "Display the connections with stored credentials",
	RunE:  runAuthStatus,
}

var (
	authURL      string
	authUser     string
	authToken    string
	authNoVerify bool
)

func init() {
	authLoginCmd.Flags().StringVar(&authURL, "url", "", "Server URL, e.g. https://cloud.example.com/owncloud")
	authLoginCmd.Flags().StringVar(&authUser, "user", "", "Login name")
	authLoginCmd.Flags().StringVar(&authToken, "token", "", "App token sent as bearer token instead of a password")
	authLoginCmd.Flags().BoolVar(&authNoVerify, "no-verify", false, "Save without contacting the server")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	cfg, err := loadConfig(flags)
	if err != nil {
		return out.WriteError("auth.login", cliError(err, utils.ErrCodeInvalidConfig))
	}
	name := connectionName(cfg, flags)
	conn := cfg.Connections[name]
	if conn == nil {
		conn = &config.Connection{}
	}
	if authURL != "" {
		conn.URL = strings.TrimSuffix(authURL, "/")
	}
	if authUser != "" {
		conn.User = authUser
	}
	if conn.URL == "" {
		return out.WriteError("auth.login", utils.NewCLIError(utils.ErrCodeInvalidArgument, "--url is required").Build())
	}
	if conn.User == "" {
		return out.WriteError("auth.login", utils.NewCLIError(utils.ErrCodeInvalidArgument, "--user is required").Build())
	}

	secret := &auth.StoredCredentials{User: conn.User}
	if authToken != "" {
		secret.AppToken = authToken
		conn.UseToken = true
	} else {
		password, err := readPassword(fmt.Sprintf("Password for %s: ", conn.User))
		if err != nil {
			return out.WriteError("auth.login", utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
		}
		secret.Password = password
		conn.UseToken = false
	}

	cfg.Connections[name] = conn
	if cfg.DefaultConnection == "" {
		cfg.DefaultConnection = name
	}

	var status *serverProbe
	if !authNoVerify {
		s := &session{cfg: cfg, name: name, conn: conn, secret: secret, store: auth.NewStore(), flags: flags}
		s.store.Set(secret.User, secret.Password)
		s.prompter = newTerminalPrompter(flags.Yes)
		s.trust = newTrustCache(s)
		status, err = verifyLogin(commandContext(cmd), s)
		if err != nil {
			return out.WriteError("auth.login", cliError(err, utils.ErrCodeAuthInvalid))
		}
	}

	mgr, err := newAuthManager()
	if err != nil {
		return out.WriteError("auth.login", cliError(err, utils.ErrCodeInvalidConfig))
	}
	if warning := mgr.GetStorageWarning(); warning != "" {
		out.Log("%s", warning)
	}
	if err := mgr.SaveCredentials(name, secret); err != nil {
		return out.WriteError("auth.login", utils.NewCLIError(utils.ErrCodeUnknown,
			fmt.Sprintf("Failed to store credentials: %v", err)).Build())
	}
	if err := cfg.Save(flags.Config); err != nil {
		return out.WriteError("auth.login", utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
	}

	out.Log("Logged in to %s as %s", conn.URL, conn.User)
	result := map[string]interface{}{
		"connection":     name,
		"url":            conn.URL,
		"user":           conn.User,
		"appToken":       conn.UseToken,
		"storageBackend": mgr.GetStorageBackend(),
	}
	if status != nil {
		result["serverVersion"] = status.version
	}
	return out.WriteSuccess("auth.login", result)
}

// verifyLogin probes status.php and then lists the WebDAV root, which fails
// with 401 for bad credentials.
func verifyLogin(ctx context.Context, s *session) (*serverProbe, error) {
	probe := newServerProbe()
	client, err := s.client(probe)
	if err != nil {
		return nil, err
	}
	if err := probe.run(ctx, client); err != nil {
		return nil, err
	}
	if _, err := client.Stat(ctx, ""); err != nil {
		if api.StatusOf(err) == http.StatusUnauthorized {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthInvalid,
				"The server rejected the credentials").WithHTTPStatus(http.StatusUnauthorized).Build())
		}
		return nil, err
	}
	return probe, nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	cfg, err := loadConfig(flags)
	if err != nil {
		return out.WriteError("auth.logout", cliError(err, utils.ErrCodeInvalidConfig))
	}
	name := connectionName(cfg, flags)

	mgr, err := newAuthManager()
	if err != nil {
		return out.WriteError("auth.logout", cliError(err, utils.ErrCodeInvalidConfig))
	}
	if err := mgr.DeleteCredentials(name); err != nil {
		return out.WriteError("auth.logout", utils.NewCLIError(utils.ErrCodeAuthRequired,
			fmt.Sprintf("No credentials stored for %s", name)).Build())
	}

	out.Log("Removed credentials of %s", name)
	return out.WriteSuccess("auth.logout", map[string]interface{}{
		"connection": name,
		"loggedOut":  true,
	})
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	cfg, err := loadConfig(flags)
	if err != nil {
		return out.WriteError("auth.status", cliError(err, utils.ErrCodeInvalidConfig))
	}
	mgr, err := newAuthManager()
	if err != nil {
		return out.WriteError("auth.status", cliError(err, utils.ErrCodeInvalidConfig))
	}
	if warning := mgr.GetStorageWarning(); warning != "" && flags.Verbose {
		out.Log("%s", warning)
	}

	stored, err := mgr.ListConnections()
	if err != nil {
		return out.WriteError("auth.status", utils.NewCLIError(utils.ErrCodeUnknown, err.Error()).Build())
	}
	rows := make(connectionRows, 0, len(cfg.Connections))
	for name, conn := range cfg.Connections {
		row := &connectionRow{Name: name, URL: conn.URL, User: conn.User, Default: name == cfg.DefaultConnection}
		for _, s := range stored {
			if s == name {
				row.LoggedIn = true
				if creds, err := mgr.LoadCredentials(name); err == nil {
					row.SavedAt = creds.SavedAt
				}
			}
		}
		rows = append(rows, row)
	}
	rows.sortByName()

	if flags.OutputFormat == types.OutputFormatTable {
		out.Log("Credential storage: %s", mgr.GetStorageBackend())
		return out.WriteSuccess("auth.status", rows)
	}
	return out.WriteSuccess("auth.status", map[string]interface{}{
		"connections":    rows,
		"storageBackend": mgr.GetStorageBackend(),
	})
}
