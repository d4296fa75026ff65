package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dl-alexandre/ocsync/internal/api"
	"github.com/dl-alexandre/ocsync/internal/types"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the server",
	Long:  "Ask status.php whether an ownCloud server runs at the connection URL and whether its version is supported",
	RunE:  runStatus,
}

var lsCmd = &cobra.Command{
	Use:   "ls [remote-path]",
	Short: "List a remote directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLs,
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <remote-path>",
	Short: "Create a remote directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMkdir,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(mkdirCmd)
}

// serverProbe is the api.Listener of a status check. It records what the
// client reports.
type serverProbe struct {
	mu       sync.Mutex
	found    bool
	url      string
	version  string
	notFound *api.Reply
	created  *api.Reply
	exists   map[string]*api.Reply
}

func newServerProbe() *serverProbe {
	return &serverProbe{exists: make(map[string]*api.Reply)}
}

func (p *serverProbe) ServiceFound(url, version string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.found = true
	p.url = url
	p.version = version
}

func (p *serverProbe) ServiceNotFound(r *api.Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notFound = r
}

func (p *serverProbe) DirectoryExists(path string, r *api.Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exists[path] = r
}

func (p *serverProbe) DirectoryCreated(r *api.Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = r
}

// run checks status.php and fails unless a supported server answered.
func (p *serverProbe) run(ctx context.Context, client *api.Client) error {
	reply := client.CheckService(ctx).Wait()

	status := p.status(client.BaseURL(), reply)
	switch {
	case !status.Found:
		code := utils.ErrCodeServiceNotFound
		if reply.StatusCode != 0 {
			code = utils.HTTPStatusErrorCode(reply.StatusCode)
			if code == utils.ErrCodeUnknown || code == utils.ErrCodeRemoteNotFound {
				code = utils.ErrCodeServiceNotFound
			}
		}
		msg := fmt.Sprintf("No ownCloud server found at %s", client.BaseURL())
		if status.Error != "" {
			msg += ": " + status.Error
		}
		return utils.NewAppError(utils.NewCLIError(code, msg).WithHTTPStatus(reply.StatusCode).Build())
	case !status.Supported:
		if err := api.CheckServerVersion(status.Version); err != nil {
			return err
		}
	}
	return nil
}

func (p *serverProbe) status(base string, reply *api.Reply) *types.ServiceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &types.ServiceStatus{URL: base, Status: reply.StatusCode}
	if p.found {
		s.Found = true
		s.URL = p.url
		s.Version = p.version
		s.Supported = api.CheckServerVersion(p.version) == nil
		return s
	}
	if err := reply.HTTPError(); err != nil {
		s.Error = err.Error()
	} else {
		s.Error = "invalid status.php reply"
	}
	return s
}

func runStatus(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	s, err := openSession(flags)
	if err != nil {
		return out.WriteError("status", cliError(err, utils.ErrCodeInvalidConfig))
	}
	probe := newServerProbe()
	client, err := s.client(probe)
	if err != nil {
		return out.WriteError("status", cliError(err, utils.ErrCodeInvalidConfig))
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), s.cfg.GetRequestTimeout())
	defer cancel()
	reply := client.CheckService(ctx).Wait()
	status := probe.status(client.BaseURL(), reply)
	if !status.Found {
		return out.WriteError("status", utils.NewCLIError(utils.ErrCodeServiceNotFound,
			fmt.Sprintf("No ownCloud server found at %s", client.BaseURL())).
			WithHTTPStatus(reply.StatusCode).
			WithContext("error", status.Error).Build())
	}
	if !status.Supported {
		out.AddWarning(utils.ErrCodeServerTooOld,
			fmt.Sprintf("Server version %s is older than %s", status.Version, utils.MinimumServerVersion), "warning")
	}
	return out.WriteSuccess("status", status)
}

func runLs(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	dir := ""
	if len(args) == 1 {
		dir = strings.Trim(args[0], "/")
	}

	s, err := openSession(flags)
	if err != nil {
		return out.WriteError("ls", cliError(err, utils.ErrCodeInvalidConfig))
	}
	client, err := s.client(nil)
	if err != nil {
		return out.WriteError("ls", cliError(err, utils.ErrCodeInvalidConfig))
	}

	resources, err := client.Propfind(commandContext(cmd), dir)
	if err != nil {
		return out.WriteError("ls", cliError(err, utils.ErrCodeNetworkError))
	}

	listing := &types.RemoteListing{Path: "/" + dir, Entries: make([]*types.RemoteEntry, 0, len(resources))}
	for _, r := range resources {
		if r.Path == dir {
			continue
		}
		entry := &types.RemoteEntry{Path: r.Path, IsDir: r.IsDir, Size: r.Size, ETag: r.ETag}
		if !r.ModTime.IsZero() {
			entry.Modified = r.ModTime.Local().Format(time.DateTime)
		}
		listing.Entries = append(listing.Entries, entry)
	}
	sort.Slice(listing.Entries, func(i, j int) bool { return listing.Entries[i].Path < listing.Entries[j].Path })
	return out.WriteSuccess("ls", listing)
}

// runMkdir goes through MakeDirectory so the listener sees the reply, the
// same path the engine takes for a missing remote root.
func runMkdir(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	dir := strings.Trim(args[0], "/")
	if dir == "" {
		return out.WriteError("mkdir", utils.NewCLIError(utils.ErrCodeInvalidPath, "Remote path must not be empty").Build())
	}

	s, err := openSession(flags)
	if err != nil {
		return out.WriteError("mkdir", cliError(err, utils.ErrCodeInvalidConfig))
	}
	probe := newServerProbe()
	client, err := s.client(probe)
	if err != nil {
		return out.WriteError("mkdir", cliError(err, utils.ErrCodeInvalidConfig))
	}

	reply := client.MakeDirectory(commandContext(cmd), dir).Wait()
	if err := reply.HTTPError(); err != nil {
		code := utils.ErrCodeNetworkError
		if reply.StatusCode != 0 {
			code = utils.HTTPStatusErrorCode(reply.StatusCode)
		}
		return out.WriteError("mkdir", utils.NewCLIError(code, err.Error()).WithHTTPStatus(reply.StatusCode).Build())
	}

	out.Log("Created %s", dir)
	return out.WriteSuccess("mkdir", map[string]string{
		"path":   "/" + dir,
		"status": fmt.Sprintf("%d", reply.StatusCode),
	})
}

// connectionRow is one line of auth status.
type connectionRow struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	User     string `json:"user"`
	Default  bool   `json:"default"`
	LoggedIn bool   `json:"loggedIn"`
	SavedAt  string `json:"savedAt,omitempty"`
}

type connectionRows []*connectionRow

func (r connectionRows) sortByName() {
	sort.Slice(r, func(i, j int) bool { return r[i].Name < r[j].Name })
}

func (r connectionRows) Headers() []string {
	return []string{"Connection", "URL", "User", "Default", "Logged in"}
}

func (r connectionRows) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, c := range r {
		def := ""
		if c.Default {
			def = "*"
		}
		rows = append(rows, []string{c.Name, c.URL, c.User, def, fmt.Sprintf("%t", c.LoggedIn)})
	}
	return rows
}

func (r connectionRows) EmptyMessage() string { return "No connections configured" }

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
