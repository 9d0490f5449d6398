package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/batch-tamarin/batch-tamarin/pkg/expander"
	"github.com/batch-tamarin/batch-tamarin/pkg/lemma"
	"github.com/batch-tamarin/batch-tamarin/pkg/recipe"
)

var validateCmd = &cobra.Command{
	Use:   "validate RECIPE",
	Short: "Expand a recipe without executing it and report the resulting task count",
	Args:  cobra.ExactArgs(1),
	RunE:  validateRecipe,
}

func validateRecipe(cmd *cobra.Command, args []string) error {
	recipePath := args[0]

	r, err := recipe.LoadFile(recipePath)
	if err != nil {
		return fmt.Errorf("loading recipe: %w", err)
	}

	exp := expander.New(expander.Options{
		Extractor: lemma.NewRegexExtractor(),
		Confirm:   func(string) bool { return false },
	})
	tasks, err := exp.Expand(r)
	if err != nil {
		return fmt.Errorf("expanding recipe: %w", err)
	}

	fmt.Printf("recipe is valid: %d task(s) would be executed\n", len(tasks))
	for _, t := range tasks {
		backend := "native"
		if t.IsContainer() {
			backend = "container"
		}
		fmt.Printf("  %-40s lemma=%-20s variant=%-12s backend=%s\n", t.TaskName, orDash(t.Lemma), t.ProverVariantName, backend)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
