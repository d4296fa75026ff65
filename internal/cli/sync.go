package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dl-alexandre/ocsync/internal/folder"
	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/sync/exclude"
	"github.com/dl-alexandre/ocsync/internal/types"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [alias...]",
	Short: "Sync folders once",
	Long: `Run one sync pass over the given folders, or all configured folders.
Folders are synced one after the other. A pass goes to the server unless
--local-only is given, in which case only the local tree is walked.`,
	RunE: runSync,
}

var syncLocalOnly bool

func init() {
	syncCmd.Flags().BoolVar(&syncLocalOnly, "local-only", false, "Only walk the local tree, do not contact the server")
	rootCmd.AddCommand(syncCmd)
}

// runReporter collects folder results and logs progress.
type runReporter struct {
	logger logging.Logger
	out    *OutputWriter

	mu      sync.Mutex
	reports map[string]*types.FolderRunReport
}

func newRunReporter(logger logging.Logger, out *OutputWriter) *runReporter {
	return &runReporter{logger: logger, out: out, reports: make(map[string]*types.FolderRunReport)}
}

func (r *runReporter) SyncStarted(alias string) {
	r.out.Verbose("Syncing %s", alias)
}

func (r *runReporter) SyncFinished(alias string, result folder.Result) {
	report := &types.FolderRunReport{
		Alias:    alias,
		Mode:     result.Mode.String(),
		Status:   result.Status.String(),
		Seen:     result.SeenFiles,
		Errors:   append([]string{}, result.Errors...),
		Duration: result.Duration.Round(time.Millisecond).String(),
	}
	r.mu.Lock()
	r.reports[alias] = report
	r.mu.Unlock()

	if result.Status == folder.StatusError {
		for _, msg := range result.Errors {
			r.logger.Error("Sync error", logging.F("folder", alias), logging.F("error", msg))
		}
	} else {
		r.logger.Info("Folder synced", logging.F("folder", alias), logging.F("seen", result.SeenFiles))
	}
}

// Reports returns the collected reports sorted by alias.
func (r *runReporter) Reports() types.FolderRunReports {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(types.FolderRunReports, 0, len(r.reports))
	for _, rep := range r.reports {
		out = append(out, rep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

func runSync(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter := newRunReporter(GetLogger(), out)
	set, err := buildFolderSet(flags, args, reporter)
	if err != nil {
		return out.WriteError("sync", cliError(err, utils.ErrCodeInvalidConfig))
	}

	for _, f := range set.manager.Folders() {
		if !syncLocalOnly {
			f.MarkDirty()
		}
	}
	set.manager.ScheduleAll(ctx)
	if err := set.manager.Wait(ctx); err != nil {
		return out.WriteError("sync", utils.NewCLIError(utils.ErrCodeCancelled, "Sync interrupted").Build())
	}

	reports := reporter.Reports()
	failed := 0
	for _, rep := range reports {
		if rep.Status != folder.StatusSuccess.String() {
			failed++
		}
	}
	if err := out.WriteSuccess("sync", reports); err != nil {
		return err
	}
	if failed > 0 {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeSyncFailed,
			fmt.Sprintf("%d of %d folders failed to sync", failed, len(reports))).Build())
	}
	return nil
}

// loadExcludes reads the exclude list the watcher filters events with. A
// missing list only costs a warning, the engine reports it again per run.
func loadExcludes(path string) []string {
	patterns, err := exclude.LoadFile(afero.NewOsFs(), path)
	if err != nil {
		GetLogger().Warn("Exclude list not loaded", logging.F("path", path), logging.F("error", err.Error()))
		return []string{}
	}
	return patterns
}
