package chatflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a graph file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf infers the graph format from a file extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return "", false
}

// ParseGraph decodes and validates a graph definition.
func ParseGraph(data []byte, format Format) (GraphDefinition, error) {
	var g GraphDefinition
	switch format {
	case FormatJSON:
		if err := sonic.Unmarshal(data, &g); err != nil {
			return GraphDefinition{}, fmt.Errorf("decode graph json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &g); err != nil {
			return GraphDefinition{}, fmt.Errorf("decode graph yaml: %w", err)
		}
	default:
		return GraphDefinition{}, fmt.Errorf("unsupported graph format %q", format)
	}
	if err := Validate(g); err != nil {
		return GraphDefinition{}, err
	}
	return g, nil
}

// LoadGraph reads a graph from a .json, .yaml or .yml file.
func LoadGraph(path string) (GraphDefinition, error) {
	format, ok := FormatOf(path)
	if !ok {
		return GraphDefinition{}, fmt.Errorf("%s: unsupported graph file extension", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return GraphDefinition{}, err
	}
	g, err := ParseGraph(data, format)
	if err != nil {
		return GraphDefinition{}, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// LoadGraphs reads every graph file directly inside dir, ordered by file
// name. Files with other extensions are skipped.
func LoadGraphs(dir string) ([]GraphDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatOf(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	graphs := make([]GraphDefinition, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		g, err := LoadGraph(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[g.ID]; dup {
			return nil, fmt.Errorf("%s: flow id %q already defined in %s", name, g.ID, prev)
		}
		seen[g.ID] = name
		graphs = append(graphs, g)
	}
	return graphs, nil
}
