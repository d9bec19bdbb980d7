package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/villaretreat/imagepipe/internal/config"
	"github.com/villaretreat/imagepipe/internal/logging"
	"github.com/villaretreat/imagepipe/internal/optimizer"
)

var optimizeCmd = &cobra.Command{
	Use:     "optimize",
	Aliases: []string{"o"},
	Short:   "Write the optimized artifacts of every source photo",
	Long: `Scan each configured folder and write, for every jpg, jpeg and png
photo directly inside it, three artifacts into <folder>/optimized/:

  <name>.webp              at most 1200px, WebP quality 80
  <name>-thumbnail.webp    at most 400px, WebP quality 75
  <name>.<ext>             at most 1200px, progressive JPEG quality 80
                           (PNG sources: lossless, maximum compression)

Missing folders and broken photos are logged and skipped; the rest of the
batch still runs.

Examples:
  imagepipe optimize
  imagepipe optimize --dir public/villa-1 --dir public/villa-2
  imagepipe optimize --concurrency 4 --fail-on-error
  imagepipe optimize --metrics-file /var/lib/node_exporter/imagepipe.prom`,
	RunE: runOptimize,
}

var (
	optimizeDirs        []string
	optimizeSummary     bool
	optimizeFailOnError bool
	optimizeMetricsFile string
)

func init() {
	rootCmd.AddCommand(optimizeCmd)

	optimizeCmd.Flags().StringSliceVarP(&optimizeDirs, "dir", "d", nil, "folder to optimize (repeatable, replaces the configured list)")
	optimizeCmd.Flags().IntP("concurrency", "c", 0, "maximum simultaneous encodes (0 = unbounded)")
	optimizeCmd.Flags().BoolVar(&optimizeSummary, "summary", true, "print a summary table when done")
	optimizeCmd.Flags().BoolVar(&optimizeFailOnError, "fail-on-error", false, "exit non-zero when any artifact failed")
	optimizeCmd.Flags().StringVar(&optimizeMetricsFile, "metrics-file", "", "write Prometheus metrics of the run to this file")
	_ = viper.BindPFlag("optimizer.concurrency", optimizeCmd.Flags().Lookup("concurrency"))
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(optimizeDirs) > 0 {
		cfg.Optimizer.Directories = optimizeDirs
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := newMetricsFile(optimizeMetricsFile)
	report, err := optimizeOnce(ctx, cfg, logger, sink.optimizerMetrics())
	if err != nil {
		return err
	}
	if err := sink.write(); err != nil {
		return err
	}
	if optimizeSummary {
		fmt.Fprintln(cmd.OutOrStdout())
		report.WriteTable(cmd.OutOrStdout())
	}
	return reportFailures(cmd.ErrOrStderr(), report, optimizeFailOnError)
}

// optimizeOnce runs the optimizer over the configured folders. metrics may
// be nil.
func optimizeOnce(ctx context.Context, cfg *config.Config, logger logging.Logger, metrics *optimizer.Metrics) (*optimizer.Report, error) {
	return optimizer.New(optimizer.Options{
		Directories: cfg.Optimizer.Directories,
		Concurrency: cfg.Optimizer.Concurrency,
		Logger:      logger,
		Metrics:     metrics,
	}).Run(ctx)
}

func reportFailures(w io.Writer, report *optimizer.Report, fail bool) error {
	failed := report.Failed()
	if len(failed) == 0 || !fail {
		return nil
	}
	for _, res := range failed {
		fmt.Fprintf(w, "  %s: %v\n", res.Artifact.OutputPath, res.Err)
	}
	return fmt.Errorf("%d artifact(s) failed", len(failed))
}
