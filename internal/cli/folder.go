package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dl-alexandre/ocsync/internal/config"
	"github.com/dl-alexandre/ocsync/internal/folder"
	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/types"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/spf13/cobra"
)

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage sync folders",
	Long:  "Add, list and remove the local folders that are synced with the server",
}

var folderAddCmd = &cobra.Command{
	Use:   "add <alias> <local-path> <remote-path>",
	Short: "Add a sync folder",
	Args:  cobra.ExactArgs(3),
	RunE:  runFolderAdd,
}

var folderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync folders",
	RunE:  runFolderList,
}

var folderRemoveCmd = &cobra.Command{
	Use:   "remove <alias>",
	Short: "Remove a sync folder",
	Long:  "Remove a folder definition. Local files and the sync journal are left alone.",
	Args:  cobra.ExactArgs(1),
	RunE:  runFolderRemove,
}

var folderCreateLocal bool

func init() {
	folderAddCmd.Flags().BoolVar(&folderCreateLocal, "create", false, "Create the local directory if it is missing")

	folderCmd.AddCommand(folderAddCmd)
	folderCmd.AddCommand(folderListCmd)
	folderCmd.AddCommand(folderRemoveCmd)
	rootCmd.AddCommand(folderCmd)
}

// foldersPath returns folders.yaml next to an explicit --config file, or
// the default location.
func foldersPath(flags types.GlobalFlags) (string, error) {
	if flags.Config != "" {
		return filepath.Join(filepath.Dir(flags.Config), config.FoldersFileName), nil
	}
	return config.GetFoldersPath()
}

func loadFolders(flags types.GlobalFlags) (*config.Folders, string, error) {
	path, err := foldersPath(flags)
	if err != nil {
		return nil, "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
	}
	folders, err := config.LoadFolders(path)
	if err != nil {
		return nil, "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
	}
	return folders, path, nil
}

func runFolderAdd(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	def := config.FolderDefinition{
		Alias:      args[0],
		LocalPath:  args[1],
		RemotePath: strings.Trim(args[2], "/"),
		Connection: flags.Connection,
	}
	local, err := def.ResolvedLocalPath()
	if err != nil {
		return out.WriteError("folder.add", utils.NewCLIError(utils.ErrCodeInvalidPath, err.Error()).Build())
	}
	def.LocalPath = local

	info, err := os.Stat(local)
	switch {
	case os.IsNotExist(err) && folderCreateLocal:
		if err := os.MkdirAll(local, 0o755); err != nil {
			return out.WriteError("folder.add", utils.NewCLIError(utils.ErrCodeInvalidPath, err.Error()).Build())
		}
	case err != nil:
		return out.WriteError("folder.add", utils.NewCLIError(utils.ErrCodeInvalidPath,
			fmt.Sprintf("Local path %s does not exist (use --create)", local)).Build())
	case !info.IsDir():
		return out.WriteError("folder.add", utils.NewCLIError(utils.ErrCodeInvalidPath,
			fmt.Sprintf("Local path %s is not a directory", local)).Build())
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return out.WriteError("folder.add", cliError(err, utils.ErrCodeInvalidConfig))
	}
	if !cfg.IsConfigured(def.Connection) {
		out.AddWarning(utils.ErrCodeInvalidConfig,
			fmt.Sprintf("Connection %s is not configured yet", connectionName(cfg, flags)), "warning")
	}

	folders, path, err := loadFolders(flags)
	if err != nil {
		return out.WriteError("folder.add", cliError(err, utils.ErrCodeInvalidConfig))
	}
	for _, other := range folders.Folders {
		if overlaps(other.LocalPath, local) {
			return out.WriteError("folder.add", utils.NewCLIError(utils.ErrCodeInvalidPath,
				fmt.Sprintf("Local path overlaps folder %s (%s)", other.Alias, other.LocalPath)).Build())
		}
	}
	if err := folders.Add(def); err != nil {
		return out.WriteError("folder.add", utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
	}
	if err := folders.Save(path); err != nil {
		return out.WriteError("folder.add", utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
	}

	out.Log("Added folder %s: %s <-> /%s", def.Alias, def.LocalPath, def.RemotePath)
	return out.WriteSuccess("folder.add", types.FolderDefinitions{folderView(def)})
}

func runFolderList(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	folders, _, err := loadFolders(flags)
	if err != nil {
		return out.WriteError("folder.list", cliError(err, utils.ErrCodeInvalidConfig))
	}
	views := make(types.FolderDefinitions, 0, len(folders.Folders))
	for _, def := range folders.Folders {
		views = append(views, folderView(def))
	}
	return out.WriteSuccess("folder.list", views)
}

func runFolderRemove(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	folders, path, err := loadFolders(flags)
	if err != nil {
		return out.WriteError("folder.remove", cliError(err, utils.ErrCodeInvalidConfig))
	}
	if !folders.Remove(args[0]) {
		return out.WriteError("folder.remove", utils.NewCLIError(utils.ErrCodeFolderNotFound,
			fmt.Sprintf("No folder named %s", args[0])).Build())
	}
	if err := folders.Save(path); err != nil {
		return out.WriteError("folder.remove", utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
	}

	out.Log("Removed folder %s", args[0])
	return out.WriteSuccess("folder.remove", map[string]string{"alias": args[0]})
}

func folderView(def config.FolderDefinition) *types.FolderDefinition {
	conn := def.Connection
	if conn == "" {
		conn = "(default)"
	}
	return &types.FolderDefinition{
		Alias:      def.Alias,
		LocalPath:  def.LocalPath,
		RemotePath: "/" + def.RemotePath,
		Connection: conn,
	}
}

// overlaps reports whether one path contains the other. Two folders must
// never share files.
func overlaps(a, b string) bool {
	a = filepath.Clean(a) + string(filepath.Separator)
	b = filepath.Clean(b) + string(filepath.Separator)
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// folderSet is a manager populated from folders.yaml, with one session per
// connection the folders use.
type folderSet struct {
	manager  *folder.Manager
	sessions map[string]*session
	excludes []string
}

// buildFolderSet opens the sessions and adds the selected folders; no
// aliases selects all of them.
func buildFolderSet(flags types.GlobalFlags, aliases []string, listener folder.Listener) (*folderSet, error) {
	folders, _, err := loadFolders(flags)
	if err != nil {
		return nil, err
	}
	selected := folders.Folders
	if len(aliases) > 0 {
		selected = nil
		for _, alias := range aliases {
			def, ok := folders.Find(alias)
			if !ok {
				return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeFolderNotFound,
					fmt.Sprintf("No folder named %s", alias)).Build())
			}
			selected = append(selected, def)
		}
	}
	if len(selected) == 0 {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeFolderNotFound,
			"No folders configured. Run 'ocsync folder add' first.").Build())
	}

	set := &folderSet{
		manager:  folder.NewManager(listener, GetLogger()),
		sessions: make(map[string]*session),
	}
	for _, def := range selected {
		connFlags := flags
		if def.Connection != "" {
			connFlags.Connection = def.Connection
		}
		s, ok := set.sessions[connFlags.Connection]
		if !ok {
			if s, err = openSession(connFlags); err != nil {
				return nil, err
			}
			set.sessions[connFlags.Connection] = s
		}

		remote, err := def.RemoteURL(s.cfg)
		if err != nil {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
		}
		local, err := def.ResolvedLocalPath()
		if err != nil {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidPath, err.Error()).Build())
		}
		f, err := set.manager.Add(folder.Options{
			Alias:            def.Alias,
			LocalPath:        local,
			RemoteURL:        remote,
			CredentialSource: s.store,
			FullSyncEvery:    s.cfg.FullSyncEvery,
			UseWatcher:       s.cfg.UseWatcher,
			ExcludeFile:      s.cfg.ExcludeFile,
			Open:             s.opener(),
		})
		if err != nil {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
		}
		GetLogger().Debug("Folder added",
			logging.F("folder", def.Alias), logging.F("local", local), logging.F("remote", f.RemotePath()))
		if set.excludes == nil && s.cfg.ExcludeFile != "" {
			set.excludes = loadExcludes(s.cfg.ExcludeFile)
		}
	}
	return set, nil
}

// resetTrust forgets certificate decisions of every session.
func (s *folderSet) resetTrust() {
	for _, sess := range s.sessions {
		sess.trust.Reset()
	}
}
