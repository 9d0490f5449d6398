package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/batch-tamarin/batch-tamarin/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "batch-tamarin",
	Short: "batch-tamarin drives batches of Tamarin prover runs against a recipe",
	Long: `batch-tamarin expands a recipe of theory files, lemmas, and prover
versions into a flat set of executable tasks, schedules them against a
fixed cores/memory pool, and writes a structured execution report.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("containerd-socket", "", "containerd socket path (required only for container tamarin_versions)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(cacheCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
