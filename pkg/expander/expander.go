// Package expander implements the task expander (C6): turning one recipe
// into a flat list of fully resolved ExecutableTasks, applying resource
// inheritance and capping, and resolving lemma specs via the pluggable
// lemma.Extractor.
package expander

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/batch-tamarin/batch-tamarin/pkg/lemma"
	"github.com/batch-tamarin/batch-tamarin/pkg/log"
	"github.com/batch-tamarin/batch-tamarin/pkg/recipe"
	"github.com/batch-tamarin/batch-tamarin/pkg/types"
)

const (
	defaultMaxCores  = 4
	defaultMaxMemory = 16
)

// ConfirmFunc is asked whether to wipe a non-empty output directory before
// expansion proceeds. It mirrors the original tool's interactive
// confirmation prompt; a non-interactive caller can supply a function that
// always returns false (keep existing contents, just log).
type ConfirmFunc func(prompt string) bool

// Options configures one expansion run.
type Options struct {
	Extractor lemma.Extractor
	Confirm   ConfirmFunc
}

// Expander turns a decoded recipe into executable tasks.
type Expander struct {
	extractor lemma.Extractor
	confirm   ConfirmFunc
}

// New constructs an Expander. A nil Extractor defaults to
// lemma.NewRegexExtractor; a nil Confirm always declines to wipe.
func New(opts Options) *Expander {
	e := &Expander{extractor: opts.Extractor, confirm: opts.Confirm}
	if e.extractor == nil {
		e.extractor = lemma.NewRegexExtractor()
	}
	if e.confirm == nil {
		e.confirm = func(string) bool { return false }
	}
	return e
}

type effectiveResources struct {
	maxCores  int
	maxMemory int
	timeout   int
}

// Expand implements the C6 contract.
func (e *Expander) Expand(r *recipe.Recipe) ([]*types.ExecutableTask, error) {
	if err := e.prepareOutputDirectory(r.Config.OutputDirectory); err != nil {
		return nil, err
	}

	taskKeys := make([]string, 0, len(r.Tasks))
	for key := range r.Tasks {
		taskKeys = append(taskKeys, key)
	}
	sort.Strings(taskKeys)

	nameCounts := make(map[string]int)
	var out []*types.ExecutableTask

	for _, key := range taskKeys {
		rt := r.Tasks[key]

		if err := requireRegularFile(rt.TheoryFile); err != nil {
			return nil, fmt.Errorf("task %q: %w", key, err)
		}

		taskRes := effectiveResources{
			maxCores:  defaultMaxCores,
			maxMemory: defaultMaxMemory,
			timeout:   r.Config.DefaultTimeout,
		}
		taskRes = overlay(taskRes, rt.Resources)

		variants, err := resolveVariants(r, rt.ProverVersions)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", key, err)
		}

		if len(rt.Lemmas) == 0 {
			for _, v := range variants {
				capped := applyGlobalCaps(taskRes, r.Config, key, "")
				task := newTask(key, v, "", rt, capped, nameCounts)
				out = append(out, task)
			}
			continue
		}

		names, err := e.extractor.ExtractLemmas(rt.TheoryFile)
		if err != nil {
			return nil, fmt.Errorf("task %q: extracting lemmas: %w", key, err)
		}

		for _, spec := range rt.Lemmas {
			matched := matchLemmaSpec(spec.Name, names)
			if len(matched) == 0 {
				log.Logger.Warn().Str("task", key).Str("lemma_spec", spec.Name).
					Msg("lemma spec matched no lemma in theory file; dropping")
				continue
			}

			lemmaVariants := variants
			if len(spec.ProverVersions) > 0 {
				lemmaVariants, err = resolveVariants(r, spec.ProverVersions)
				if err != nil {
					return nil, fmt.Errorf("task %q: lemma %q: %w", key, spec.Name, err)
				}
			}

			lemmaRes := overlay(taskRes, spec.Resources)

			for _, lemmaName := range matched {
				for _, v := range lemmaVariants {
					capped := applyGlobalCaps(lemmaRes, r.Config, key, lemmaName)
					task := newTask(key, v, lemmaName, rt, capped, nameCounts)
					task.ProverOptions = mergeOptions(rt.ProverOptions, spec.ProverOptions)
					task.PreprocessFlags = mergeOptions(rt.PreprocessFlags, spec.PreprocessFlags)
					out = append(out, task)
				}
			}
		}
	}

	return out, nil
}

func (e *Expander) prepareOutputDirectory(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o755)
		}
		return fmt.Errorf("reading output directory %s: %w", dir, err)
	}

	if len(entries) > 0 {
		if e.confirm(fmt.Sprintf("output directory %s is not empty; wipe it?", dir)) {
			for _, entry := range entries {
				if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
					return fmt.Errorf("wiping output directory %s: %w", dir, err)
				}
			}
		} else {
			log.Logger.Warn().Str("output_directory", dir).Msg("output directory not empty; continuing without wiping")
		}
	}
	return nil
}

func requireRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("theory file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("theory file %s is not a regular file", path)
	}
	return nil
}

func overlay(base effectiveResources, override *recipe.ResourceOverride) effectiveResources {
	if override == nil {
		return base
	}
	if override.MaxCores != nil {
		base.maxCores = *override.MaxCores
	}
	if override.MaxMemory != nil {
		base.maxMemory = *override.MaxMemory
	}
	if override.Timeout != nil {
		base.timeout = *override.Timeout
	}
	return base
}

func applyGlobalCaps(res effectiveResources, cfg recipe.GlobalConfig, taskKey, lemmaName string) effectiveResources {
	if cfg.GlobalMaxCores > 0 && res.maxCores > cfg.GlobalMaxCores {
		log.Logger.Warn().Str("task", taskKey).Str("lemma", lemmaName).
			Int("requested_cores", res.maxCores).Int("global_max_cores", cfg.GlobalMaxCores).
			Msg("max_cores exceeds global cap; clamping")
		res.maxCores = cfg.GlobalMaxCores
	}
	if cfg.GlobalMaxMemory > 0 && res.maxMemory > cfg.GlobalMaxMemory {
		log.Logger.Warn().Str("task", taskKey).Str("lemma", lemmaName).
			Int("requested_memory_gib", res.maxMemory).Int("global_max_memory", cfg.GlobalMaxMemory).
			Msg("max_memory exceeds global cap; clamping")
		res.maxMemory = cfg.GlobalMaxMemory
	}
	return res
}

func resolveVariants(r *recipe.Recipe, aliases []string) ([]types.ProverVariant, error) {
	var out []types.ProverVariant
	for _, alias := range aliases {
		pv, ok := r.ProverVersions[alias]
		if !ok {
			return nil, fmt.Errorf("prover variant %q is not defined in tamarin_versions", alias)
		}
		variant := types.ProverVariant{Name: alias}
		switch {
		case pv.ContainerImage != nil && pv.ContainerImage.Image != "":
			variant.ContainerImage = pv.ContainerImage.Image
		case pv.Path != "":
			if _, err := os.Stat(pv.Path); err != nil {
				return nil, fmt.Errorf("prover variant %q executable: %w", alias, err)
			}
			variant.Path = pv.Path
		default:
			return nil, fmt.Errorf("prover variant %q has neither a path nor a container image", alias)
		}
		out = append(out, variant)
	}
	return out, nil
}

// matchLemmaSpec keeps every defined lemma name matching spec: an exact
// name, or (if no exact match exists) every name sharing spec as a prefix.
func matchLemmaSpec(spec string, defined []string) []string {
	for _, name := range defined {
		if name == spec {
			return []string{name}
		}
	}
	var matched []string
	for _, name := range defined {
		if len(name) > len(spec) && name[:len(spec)] == spec {
			matched = append(matched, name)
		}
	}
	return matched
}

func mergeOptions(taskLevel, lemmaLevel []string) []string {
	if len(lemmaLevel) == 0 {
		return taskLevel
	}
	out := make([]string, 0, len(taskLevel)+len(lemmaLevel))
	out = append(out, taskLevel...)
	out = append(out, lemmaLevel...)
	return out
}

func newTask(taskKey string, variant types.ProverVariant, lemmaName string, rt recipe.RecipeTask, res effectiveResources, nameCounts map[string]int) *types.ExecutableTask {
	name := taskKey + "_" + variant.Name
	if lemmaName != "" {
		name += "_" + lemmaName
	}
	nameCounts[name]++
	if n := nameCounts[name]; n > 1 {
		name = fmt.Sprintf("%s_%d", name, n)
	}

	outputFile := rt.OutputFilePrefix + "_" + variant.Name
	if lemmaName != "" {
		outputFile += "_" + lemmaName
	}
	outputFile += ".txt"
	tracesDir := filepath.Join(filepath.Dir(rt.TheoryFile), "traces")

	return &types.ExecutableTask{
		TaskName:          name,
		OriginalTaskName:  taskKey,
		ProverVariantName: variant.Name,
		ExecutablePath:    variant.Path,
		ContainerImage:    variant.ContainerImage,
		TheoryFile:        rt.TheoryFile,
		OutputFile:        outputFile,
		TracesDir:         tracesDir,
		Lemma:             lemmaName,
		ProverOptions:     rt.ProverOptions,
		PreprocessFlags:   rt.PreprocessFlags,
		MaxCores:          res.maxCores,
		MaxMemoryGiB:      res.maxMemory,
		TimeoutSecond:     res.timeout,
	}
}
