// Package recipe decodes the declarative batch-job description (JSON, or
// YAML as a supplemented convenience format) into plain Go records. It does
// not validate against a schema and does not check the filesystem; that is
// the expander's job (pkg/expander).
package recipe

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GlobalConfig is the recipe's top-level `config` object.
type GlobalConfig struct {
	GlobalMaxCores  int    `json:"global_max_cores" yaml:"global_max_cores"`
	GlobalMaxMemory int    `json:"global_max_memory" yaml:"global_max_memory"`
	DefaultTimeout  int    `json:"default_timeout" yaml:"default_timeout"`
	OutputDirectory string `json:"output_directory" yaml:"output_directory"`
}

// ContainerImageRef is the `container_image` shape of a tamarin_versions entry.
type ContainerImageRef struct {
	Image string `json:"image" yaml:"image"`
}

// ProverVersion is one entry of the recipe's `tamarin_versions` map: either
// a native executable path or a container image reference.
type ProverVersion struct {
	Path           string             `json:"path,omitempty" yaml:"path,omitempty"`
	ContainerImage *ContainerImageRef `json:"container_image,omitempty" yaml:"container_image,omitempty"`
}

// ResourceOverride is the optional `resources` object found at task and
// lemma level; all fields are pointers so "unset" is distinguishable from
// "zero".
type ResourceOverride struct {
	MaxCores  *int `json:"max_cores,omitempty" yaml:"max_cores,omitempty"`
	MaxMemory *int `json:"max_memory,omitempty" yaml:"max_memory,omitempty"`
	Timeout   *int `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// LemmaSpec names a lemma (exact or prefix) the task should attempt, with
// optional per-lemma overrides.
type LemmaSpec struct {
	Name            string            `json:"name" yaml:"name"`
	ProverVersions  []string          `json:"tamarin_versions,omitempty" yaml:"tamarin_versions,omitempty"`
	ProverOptions   []string          `json:"tamarin_options,omitempty" yaml:"tamarin_options,omitempty"`
	PreprocessFlags []string          `json:"preprocess_flags,omitempty" yaml:"preprocess_flags,omitempty"`
	Resources       *ResourceOverride `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// RecipeTask is one entry of the recipe's `tasks` map.
type RecipeTask struct {
	TheoryFile       string            `json:"theory_file" yaml:"theory_file"`
	ProverVersions   []string          `json:"tamarin_versions" yaml:"tamarin_versions"`
	OutputFilePrefix string            `json:"output_file_prefix" yaml:"output_file_prefix"`
	ProverOptions    []string          `json:"tamarin_options,omitempty" yaml:"tamarin_options,omitempty"`
	PreprocessFlags  []string          `json:"preprocess_flags,omitempty" yaml:"preprocess_flags,omitempty"`
	Resources        *ResourceOverride `json:"resources,omitempty" yaml:"resources,omitempty"`
	Lemmas           []LemmaSpec       `json:"lemmas,omitempty" yaml:"lemmas,omitempty"`
}

// Recipe is the fully decoded, unvalidated batch-job description.
type Recipe struct {
	Config         GlobalConfig             `json:"config" yaml:"config"`
	ProverVersions map[string]ProverVersion `json:"tamarin_versions" yaml:"tamarin_versions"`
	Tasks          map[string]RecipeTask    `json:"tasks" yaml:"tasks"`
}

// LoadJSON decodes a recipe from JSON bytes.
func LoadJSON(data []byte) (*Recipe, error) {
	var r Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding recipe json: %w", err)
	}
	return &r, nil
}

// LoadYAML decodes a recipe from YAML bytes, the supplemented alternate
// format for hand-authored recipes.
func LoadYAML(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding recipe yaml: %w", err)
	}
	return &r, nil
}

// LoadFile decodes a recipe from path, dispatching on extension. Unknown
// extensions are treated as JSON.
func LoadFile(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe file %s: %w", path, err)
	}
	if isYAMLPath(path) {
		return LoadYAML(data)
	}
	return LoadJSON(data)
}

func isYAMLPath(path string) bool {
	n := len(path)
	return n >= 5 && (path[n-5:] == ".yaml") || (n >= 4 && path[n-4:] == ".yml")
}

// Save writes r back out as JSON, matching the format it was most likely
// read in (config_manager's save_json_recipe in the original tool).
func Save(path string, r *Recipe) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding recipe: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing recipe file %s: %w", path, err)
	}
	return nil
}
