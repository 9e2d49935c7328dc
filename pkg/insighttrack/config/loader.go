package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack"
)

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses a YAML mapping.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses a JSON object.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// LoadEventConfig reads an event-name list from a YAML or JSON file. The
// file holds either a bare list of names or a mapping with an "events" list.
// Empty and duplicate names are dropped, keeping first occurrences.
func LoadEventConfig(path string) (insighttrack.EventList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event config: %w", err)
	}

	// JSON is a subset of YAML, so one decoder covers both formats.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse event config %s: %w", path, err)
	}

	var names []string
	switch v := doc.(type) {
	case nil:
	case []any:
		names, err = eventNames(v)
	case map[string]any:
		list, ok := v["events"].([]any)
		if !ok && v["events"] != nil {
			return nil, fmt.Errorf("event config %s: %w: events must be a list", path, ErrInvalidConfig)
		}
		names, err = eventNames(list)
	default:
		return nil, fmt.Errorf("event config %s: %w: expected a list or mapping", path, ErrInvalidConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("event config %s: %w", path, err)
	}
	return insighttrack.NewEventList(names...), nil
}

func eventNames(items []any) ([]string, error) {
	names := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: event %d is %T, want string", ErrInvalidConfig, i, item)
		}
		names = append(names, s)
	}
	return names, nil
}
