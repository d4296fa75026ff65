package cli

import (
	"errors"
	"net/http"

	"github.com/dl-alexandre/ocsync/internal/api"
	"github.com/dl-alexandre/ocsync/internal/auth"
	"github.com/dl-alexandre/ocsync/internal/config"
	"github.com/dl-alexandre/ocsync/internal/sync/engine"
	"github.com/dl-alexandre/ocsync/internal/trust"
	"github.com/dl-alexandre/ocsync/internal/types"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/spf13/afero"
)

// session bundles what every server command needs: the loaded config, the
// selected connection with its secret, and the session trust state.
type session struct {
	cfg      *config.Config
	name     string
	conn     *config.Connection
	secret   *auth.StoredCredentials
	store    *auth.Store
	trust    *trust.Cache
	flags    types.GlobalFlags
	prompter trust.Prompter
}

func loadConfig(flags types.GlobalFlags) (*config.Config, error) {
	cfg, err := config.LoadFrom(flags.Config)
	if err != nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
	}
	return cfg, nil
}

func newAuthManager() (*auth.Manager, error) {
	dir, err := config.GetConfigDir()
	if err != nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
	}
	return auth.NewManager(dir), nil
}

func connectionName(cfg *config.Config, flags types.GlobalFlags) string {
	if flags.Connection != "" {
		return flags.Connection
	}
	if cfg.DefaultConnection != "" {
		return cfg.DefaultConnection
	}
	return config.DefaultConnectionName
}

// openSession loads the config and credentials of the selected connection.
func openSession(flags types.GlobalFlags) (*session, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	name := connectionName(cfg, flags)
	conn, err := cfg.Connection(name)
	if err != nil || conn.URL == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig,
			"Connection "+name+" is not configured. Run 'ocsync auth login --url <server>' first.").
			WithContext("connection", name).Build())
	}

	mgr, err := newAuthManager()
	if err != nil {
		return nil, err
	}
	secret, err := mgr.RequireCredentials(name)
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired, err.Error()).Build())
	}

	store := auth.NewStore()
	user := secret.User
	if user == "" {
		user = conn.User
	}
	store.Set(user, secret.Password)

	s := &session{
		cfg:     cfg,
		name:    name,
		conn:    conn,
		secret:  secret,
		store:   store,
		flags:   flags,
	}
	s.prompter = newTerminalPrompter(flags.Yes)
	s.trust = newTrustCache(s)
	return s, nil
}

func newTrustCache(s *session) *trust.Cache {
	return trust.NewCache(s.prompter, GetLogger(), s.conn.TrustedFingerprints...)
}

func wrapTransport() func(http.RoundTripper) http.RoundTripper {
	if debugTransport == nil {
		return nil
	}
	return func(rt http.RoundTripper) http.RoundTripper {
		return debugTransport.Wrap(rt)
	}
}

// client builds a WebDAV client for the session's connection.
func (s *session) client(listener api.Listener) (*api.Client, error) {
	opts := api.Options{
		BaseURL:       s.conn.URL,
		Credentials:   s.store,
		AuthHeader:    s.conn.AuthHeader,
		Trust:         s.trust,
		Listener:      listener,
		Logger:        GetLogger(),
		WrapTransport: wrapTransport(),
		Timeout:       s.cfg.GetRequestTimeout(),
		MaxRetries:    utils.DefaultMaxRetries,
	}
	if s.conn.UseToken && s.secret.AppToken != "" {
		opts.TokenSource = s.secret.TokenSource()
	}
	c, err := api.NewClient(opts)
	if err != nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
	}
	return c, nil
}

// opener returns the sync engine factory for folders of this session.
func (s *session) opener() engine.Opener {
	return engine.NewOpener(engine.Options{
		Fs:            afero.NewOsFs(),
		MaxTimeSkew:   s.cfg.GetMaxTimeSkew(),
		Concurrency:   s.cfg.Concurrency,
		Trust:         s.trust,
		Timeout:       s.cfg.GetRequestTimeout(),
		Logger:        GetLogger(),
		WrapTransport: wrapTransport(),
	})
}

// cliError turns any error into a CLIError, keeping codes already assigned.
func cliError(err error, fallback string) types.CLIError {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError
	}
	return utils.NewCLIError(fallback, err.Error()).Build()
}
