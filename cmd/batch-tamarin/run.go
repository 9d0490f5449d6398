package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/batch-tamarin/batch-tamarin/pkg/accountant"
	"github.com/batch-tamarin/batch-tamarin/pkg/cache"
	"github.com/batch-tamarin/batch-tamarin/pkg/containerrunner"
	"github.com/batch-tamarin/batch-tamarin/pkg/executor"
	"github.com/batch-tamarin/batch-tamarin/pkg/expander"
	"github.com/batch-tamarin/batch-tamarin/pkg/lemma"
	"github.com/batch-tamarin/batch-tamarin/pkg/log"
	"github.com/batch-tamarin/batch-tamarin/pkg/metrics"
	"github.com/batch-tamarin/batch-tamarin/pkg/procrunner"
	"github.com/batch-tamarin/batch-tamarin/pkg/recipe"
	"github.com/batch-tamarin/batch-tamarin/pkg/report"
	"github.com/batch-tamarin/batch-tamarin/pkg/scheduler"
	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run RECIPE",
	Short: "Execute a recipe end to end and write the execution report",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecipe,
}

func init() {
	runCmd.Flags().String("cache-dir", "", "Cache directory (default: ~/.batch-tamarin/cache)")
	runCmd.Flags().String("report", "", "Execution report output path (default: <output_directory>/execution_report.json)")
	runCmd.Flags().Bool("yes", false, "Don't prompt before wiping a non-empty output directory")
	runCmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. 127.0.0.1:9090); disabled if empty")
}

func runRecipe(cmd *cobra.Command, args []string) error {
	recipePath := args[0]
	cacheDir, _ := cmd.Flags().GetString("cache-dir")
	reportPath, _ := cmd.Flags().GetString("report")
	autoConfirm, _ := cmd.Flags().GetBool("yes")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	socketPath, _ := cmd.Root().PersistentFlags().GetString("containerd-socket")

	logger := log.WithComponent("cli")

	r, err := recipe.LoadFile(recipePath)
	if err != nil {
		return fmt.Errorf("loading recipe: %w", err)
	}

	exp := expander.New(expander.Options{
		Extractor: lemma.NewRegexExtractor(),
		Confirm:   confirmFunc(autoConfirm),
	})
	tasks, err := exp.Expand(r)
	if err != nil {
		return fmt.Errorf("expanding recipe: %w", err)
	}
	logger.Info().Int("tasks", len(tasks)).Msg("recipe expanded")

	if cacheDir == "" {
		cacheDir, err = cache.DefaultDir()
		if err != nil {
			return fmt.Errorf("resolving default cache directory: %w", err)
		}
	}
	c, err := cache.Open(cacheDir)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer c.Close()

	procRunner := procrunner.New()

	var containerRunner *containerrunner.Runner
	if needsContainerRunner(tasks) {
		if socketPath == "" {
			return fmt.Errorf("recipe uses a container_image tamarin version but --containerd-socket was not given")
		}
		containerRunner, err = containerrunner.New(socketPath)
		if err != nil {
			return fmt.Errorf("connecting to containerd: %w", err)
		}
		defer containerRunner.Close()
	}

	exec := executor.New(c, procRunner, containerRunner, r.Config.OutputDirectory)
	acc := accountant.New(r.Config.GlobalMaxCores, r.Config.GlobalMaxMemory)
	sched := scheduler.New(acc, exec, procRunner)

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	summary, err := sched.Run(ctx, tasks)
	if err != nil {
		return fmt.Errorf("running scheduler: %w", err)
	}

	if reportPath == "" {
		dir := r.Config.OutputDirectory
		if dir == "" {
			dir = "."
		}
		reportPath = filepath.Join(dir, "execution_report.json")
	}
	doc := report.Build(r.Config, tasks, summary)
	if err := report.WriteFile(reportPath, doc); err != nil {
		return fmt.Errorf("writing execution report: %w", err)
	}

	logger.Info().
		Int("total", summary.Total).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("timed_out", summary.TimedOut).
		Int("memory_exceeded", summary.MemoryExceeded).
		Int("interrupted", summary.Interrupted).
		Str("report", reportPath).
		Msg("run complete")

	return nil
}

// needsContainerRunner reports whether any expanded task targets a
// container_image prover variant.
func needsContainerRunner(tasks []*types.ExecutableTask) bool {
	for _, t := range tasks {
		if t.IsContainer() {
			return true
		}
	}
	return false
}

func confirmFunc(autoYes bool) expander.ConfirmFunc {
	if autoYes {
		return func(string) bool { return true }
	}
	return func(prompt string) bool {
		fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		return answer == "y" || answer == "yes"
	}
}
