// Package graphab loads case-study configurations and runs the Graphab
// connectivity analysis through a wrapper script.
package graphab

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

const habitatKey = "habitat"

// CaseConfig is one habitat configuration of a case study. Key order is
// kept as written in the file.
type CaseConfig struct {
	Path    string
	Habitat string
	Values  yaml.MapSlice
}

// Value returns a top level value or nil.
func (c *CaseConfig) Value(key string) interface{} {
	for _, item := range c.Values {
		if k, ok := item.Key.(string); ok && k == key {
			return item.Value
		}
	}
	return nil
}

// HabitatAlias finds the first key other than habitat whose value equals
// the habitat value and strips its habitat_ prefix, so habitat_forest
// with the same codes as habitat gives forest.
func HabitatAlias(values yaml.MapSlice) (string, error) {
	var target interface{}
	found := false
	for _, item := range values {
		if k, ok := item.Key.(string); ok && k == habitatKey {
			target = item.Value
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("no %s key", habitatKey)
	}

	for _, item := range values {
		k, ok := item.Key.(string)
		if !ok || k == habitatKey {
			continue
		}
		if reflect.DeepEqual(item.Value, target) {
			return strings.TrimPrefix(k, "habitat_"), nil
		}
	}
	return "", fmt.Errorf("no habitat alias matches %s: %v", habitatKey, target)
}

func LoadCaseConfig(path string) (*CaseConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var values yaml.MapSlice
	if err = yaml.Unmarshal(content, &values); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	habitat, err := HabitatAlias(values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &CaseConfig{Path: path, Habitat: habitat, Values: values}, nil
}

// LoadCaseConfigs reads every *.yaml of a case-study config directory,
// skipping multi-habitat configurations, in name order.
func LoadCaseConfigs(dir string) ([]*CaseConfig, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, de := range files {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".yaml") || strings.Contains(name, "multi") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]*CaseConfig, 0, len(names))
	for _, name := range names {
		config, err := LoadCaseConfig(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		configs = append(configs, config)
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("no case study configs in %s", dir)
	}
	return configs, nil
}
