package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/villaretreat/imagepipe/internal/config"
	"github.com/villaretreat/imagepipe/internal/logging"
	"github.com/villaretreat/imagepipe/internal/optimizer"
	"github.com/villaretreat/imagepipe/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Re-optimize photos as they are added or changed",
	Long: `Watch the configured folders and regenerate the artifacts of any
photo that is created or modified. Changes are debounced so a folder of
photos copied in at once is processed as one batch. Writes into the
optimized/ folders never trigger another run.

Examples:
  imagepipe watch
  imagepipe watch --initial=false
  imagepipe watch --debounce 1s
  imagepipe watch --metrics-file /var/lib/node_exporter/imagepipe.prom`,
	RunE: runWatch,
}

var (
	watchInitial     bool
	watchMetricsFile string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchInitial, "initial", true, "optimize every folder once before watching")
	watchCmd.Flags().StringVar(&watchMetricsFile, "metrics-file", "", "keep Prometheus metrics in this file, rewritten after every batch")
	watchCmd.Flags().Duration("debounce", config.DefaultDebounce, "quiet period before a batch of changes is processed")
	_ = viper.BindPFlag("watch.debounce", watchCmd.Flags().Lookup("debounce"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := newMetricsFile(watchMetricsFile)
	if watchInitial {
		if _, err := optimizeOnce(ctx, cfg, logger, sink.optimizerMetrics()); err != nil {
			return err
		}
		if err := sink.write(); err != nil {
			return err
		}
	}

	fw, err := newSourceWatcher(cfg, logger, sink)
	if err != nil {
		return err
	}
	defer fw.Stop()

	if err := fw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	logger.Info(ctx, "Watching for changes", "directories", fw.WatchList())

	<-ctx.Done()
	logger.Info(context.Background(), "Stopping file watcher")
	return nil
}

// newSourceWatcher watches the configured folders and re-optimizes each
// debounced batch of changed photos. sink may be nil.
func newSourceWatcher(cfg *config.Config, logger logging.Logger, sink *metricsFile) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewImageWatcher(cfg.Watch.Debounce, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	opt := optimizer.New(optimizer.Options{
		Directories: cfg.Optimizer.Directories,
		Concurrency: cfg.Optimizer.Concurrency,
		Logger:      logger,
		Metrics:     sink.optimizerMetrics(),
	})
	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		paths := watcher.SourcePaths(events)
		if len(paths) == 0 {
			return nil
		}
		perf := logging.StartOperation(logger, "reoptimize")
		report, err := opt.OptimizeFiles(ctx, paths)
		if err != nil {
			perf.EndWithError(ctx, err)
			return err
		}
		perf.End(ctx, "files", len(paths), "failed", len(report.Failed()))
		if err := sink.write(); err != nil {
			logger.Warn(ctx, err, "Failed to update metrics file")
		}
		return nil
	})

	if _, err := fw.AddPaths(cfg.Optimizer.Directories); err != nil {
		fw.Stop()
		return nil, err
	}
	return fw, nil
}
