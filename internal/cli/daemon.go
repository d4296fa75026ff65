package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dl-alexandre/ocsync/internal/folder"
	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/metrics"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon [alias...]",
	Short: "Keep folders in sync",
	Long: `Sync the folders in the background until interrupted.

Every poll interval each idle folder runs a local pass; every fullSyncEvery
intervals, or after a local change, the pass goes to the server. With
--watch (or useWatcher in the config) file system notifications trigger
runs instead and every run goes to the server.

SIGHUP forgets certificate decisions so a refused server is asked about again.`,
	RunE: runDaemon,
}

var (
	daemonWatch       bool
	daemonMetricsAddr string
)

const shutdownGrace = 30 * time.Second

func init() {
	daemonCmd.Flags().BoolVar(&daemonWatch, "watch", false, "Watch folders for changes")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)
	log := GetLogger()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter := newRunReporter(log, out)
	set, err := buildFolderSet(flags, args, reporter)
	if err != nil {
		return out.WriteError("daemon", cliError(err, utils.ErrCodeInvalidConfig))
	}
	cfg := firstSession(set).cfg

	g, gctx := errgroup.WithContext(ctx)

	// The first pass of every folder goes to the server.
	for _, f := range set.manager.Folders() {
		f.MarkDirty()
	}
	set.manager.ScheduleAll(gctx)

	scheduler := folder.NewScheduler(set.manager, clockwork.NewRealClock(), cfg.GetPollInterval(), log)
	g.Go(func() error { return scheduler.Run(gctx) })

	if daemonWatch || cfg.UseWatcher {
		watcher := folder.NewWatcher(set.manager, set.excludes, log)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if daemonMetricsAddr != "" {
		srv := newMetricsServer(daemonMetricsAddr)
		g.Go(func() error {
			log.Info("Serving metrics", logging.F("addr", daemonMetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				log.Info("Resetting certificate trust")
				set.resetTrust()
			}
		}
	})

	log.Info("Daemon started", logging.F("folders", len(set.manager.Folders())))
	err = g.Wait()

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if werr := set.manager.Wait(waitCtx); werr != nil {
		log.Warn("Sync still running at shutdown", logging.F("folder", set.manager.Active()))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return out.WriteError("daemon", utils.NewCLIError(utils.ErrCodeUnknown, err.Error()).Build())
	}
	return out.WriteSuccess("daemon", reporter.Reports())
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func firstSession(set *folderSet) *session {
	for _, s := range set.sessions {
		return s
	}
	return nil
}
