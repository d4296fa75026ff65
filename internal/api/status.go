package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/utils"
	goversion "github.com/hashicorp/go-version"
)

// ServerStatus is the status.php document.
type ServerStatus struct {
	Installed     bool
	Version       string
	VersionString string
}

// ParseStatus decodes a status.php body. It fails unless installed,
// version and versionstring are all present.
func ParseStatus(body []byte) (*ServerStatus, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("status.php: %w", err)
	}
	for _, key := range []string{"installed", "version", "versionstring"} {
		if _, ok := raw[key]; !ok {
			return nil, fmt.Errorf("status.php: missing %q", key)
		}
	}

	status := &ServerStatus{
		Version:       fmt.Sprint(raw["version"]),
		VersionString: fmt.Sprint(raw["versionstring"]),
	}
	switch v := raw["installed"].(type) {
	case bool:
		status.Installed = v
	case string:
		status.Installed = v == "true" || v == "1"
	}
	return status, nil
}

// ParseServerVersion parses a server version string such as "7.0.0".
func ParseServerVersion(s string) (*goversion.Version, error) {
	v, err := goversion.NewVersion(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid server version %q: %w", s, err)
	}
	return v, nil
}

// CheckServerVersion returns an error when s is older than the minimum
// supported server release.
func CheckServerVersion(s string) error {
	v, err := ParseServerVersion(s)
	if err != nil {
		return err
	}
	minimum := goversion.Must(goversion.NewVersion(utils.MinimumServerVersion))
	if v.LessThan(minimum) {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeServerTooOld,
			fmt.Sprintf("server version %s is older than %s", v, minimum)).
			WithContext("version", s).Build())
	}
	return nil
}

func (c *Client) statusFinished(r *Reply) {
	if r.OK() && len(r.Body) == 0 {
		c.logger.Warn("status.php reply without content and without error, ignoring",
			logging.F("url", r.URL.Redacted()),
		)
		return
	}

	if err := r.HTTPError(); err != nil {
		c.logger.Info("No server found", logging.F("url", r.URL.Redacted()), logging.F("error", err.Error()))
		c.listener.ServiceNotFound(r)
		return
	}

	status, err := ParseStatus(r.Body)
	if err != nil {
		c.logger.Info("No proper answer from status.php", logging.F("url", r.URL.Redacted()), logging.F("error", err.Error()))
		c.listener.ServiceNotFound(r)
		return
	}

	found := strings.Replace(r.URL.String(), "/"+utils.StatusPath, "", 1)
	c.logger.Debug("Server found",
		logging.F("url", found),
		logging.F("version", status.VersionString),
	)
	c.listener.ServiceFound(found, status.VersionString)
}
