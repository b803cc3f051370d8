// Package manifest maps module names to the ordered list of archive paths
// each module needs.
//
// Manifests are JSON objects (comments and trailing commas allowed) or YAML
// mappings whose values are lists of path strings:
//
//	{
//	    // fighter animations
//	    "fighter/mario": ["rom:/fighter/mario/motion/a00wait1.nuanmb"],
//	    "common":        ["rom:/param/fighter_param.prc"],
//	}
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/meigma/arcext/internal/arctype"
)

// Provider supplies the path list for a module.
type Provider interface {
	// Paths returns the paths for module and whether the module is known.
	Paths(module string) ([]string, bool)
	// Modules returns every known module name in sorted order.
	Modules() []string
}

// Manifest is an immutable module → paths mapping.
type Manifest struct {
	modules map[string][]string
}

var _ Provider = (*Manifest)(nil)

// New builds a Manifest from a copy of modules.
func New(modules map[string][]string) *Manifest {
	m := &Manifest{modules: make(map[string][]string, len(modules))}
	for name, paths := range modules {
		m.modules[name] = slices.Clone(paths)
	}
	return m
}

// Paths returns a copy of module's paths in manifest order.
func (m *Manifest) Paths(module string) ([]string, bool) {
	paths, ok := m.modules[module]
	if !ok {
		return nil, false
	}
	return slices.Clone(paths), true
}

// Modules returns the module names in sorted order.
func (m *Manifest) Modules() []string {
	names := make([]string, 0, len(m.modules))
	for name := range m.modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of modules.
func (m *Manifest) Len() int {
	return len(m.modules)
}

// Parse decodes a JSON manifest. Comments and trailing commas are accepted.
// Anything other than an object of string lists returns a fatal
// configuration error.
func Parse(data []byte) (*Manifest, error) {
	var modules map[string][]string
	if err := json.Unmarshal(jsonc.ToJSON(data), &modules); err != nil {
		return nil, malformed("", err.Error())
	}
	if modules == nil {
		return nil, malformed("", "top level is not an object")
	}
	for name, paths := range modules {
		if paths == nil {
			return nil, malformed(name, "value is not a list")
		}
		if err := checkPaths(name, paths); err != nil {
			return nil, err
		}
	}
	return &Manifest{modules: modules}, nil
}

// ParseYAML decodes a YAML manifest. Every value must be a sequence of
// string scalars.
func ParseYAML(data []byte) (*Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, malformed("", err.Error())
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, malformed("", "top level is not a mapping")
	}
	root := doc.Content[0]
	modules := make(map[string][]string, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if key.Kind != yaml.ScalarNode {
			return nil, malformed("", fmt.Sprintf("line %d: module name is not a scalar", key.Line))
		}
		if val.Kind != yaml.SequenceNode {
			return nil, malformed(key.Value, fmt.Sprintf("line %d: value is not a list", val.Line))
		}
		paths := make([]string, 0, len(val.Content))
		for _, item := range val.Content {
			if item.Kind != yaml.ScalarNode || item.ShortTag() != "!!str" {
				return nil, malformed(key.Value, fmt.Sprintf("line %d: entry is not a string", item.Line))
			}
			paths = append(paths, item.Value)
		}
		if err := checkPaths(key.Value, paths); err != nil {
			return nil, err
		}
		modules[key.Value] = paths
	}
	return &Manifest{modules: modules}, nil
}

// ParseFile decodes data using the format implied by name's extension:
// ".yaml" and ".yml" are YAML, everything else is JSON.
func ParseFile(name string, data []byte) (*Manifest, error) {
	var (
		m   *Manifest
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		m, err = ParseYAML(data)
	default:
		m, err = Parse(data)
	}
	if fe, ok := arctype.AsFatal(err); ok && fe.Path == "" {
		fe.Path = name
	}
	return m, err
}

// Load reads and parses the manifest file at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return ParseFile(path, data)
}

func checkPaths(module string, paths []string) error {
	for i, p := range paths {
		if p == "" {
			return malformed(module, fmt.Sprintf("entry %d is empty", i))
		}
	}
	return nil
}

func malformed(module, detail string) error {
	if module != "" {
		detail = fmt.Sprintf("module %q: %s", module, detail)
	}
	return arctype.Fatal(arctype.KindConfig, "parse manifest", "",
		fmt.Errorf("%w: %s", arctype.ErrMalformedManifest, detail))
}
