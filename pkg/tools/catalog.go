package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

const catalogLogPrefix = "tools:catalog"

// Catalog is the operator-maintained YAML file that adjusts the tool set
// without a rebuild.
//
//	tools:
//	  - name: health_check
//	    description: Liveness probe
//	  - name: echo
//	    disabled: true
//	  - name: maintenance_notice
//	    description: Fixed answer while the backend is down
//	    result: {message: "back at 18:00"}
type Catalog struct {
	Tools []CatalogEntry `yaml:"tools"`
}

// CatalogEntry overrides or defines one tool.
type CatalogEntry struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Disabled    bool        `yaml:"disabled,omitempty"`
	Result      interface{} `yaml:"result,omitempty"`
}

// LoadCatalog reads a catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", catalogLogPrefix, path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("%s - failed to parse catalog: %w", catalogLogPrefix, err)
	}
	for i, e := range cat.Tools {
		if e.Name == "" {
			return nil, fmt.Errorf("%s - entry %d has no name", catalogLogPrefix, i)
		}
	}
	return &cat, nil
}

// Apply adjusts r: disabled entries are removed, descriptions of known tools
// are replaced, and unknown entries carrying a result become static tools.
func (c *Catalog) Apply(r *Registry) error {
	for _, e := range c.Tools {
		switch {
		case e.Disabled:
			r.Unregister(e.Name)
		case r.Has(e.Name):
			if e.Description != "" {
				r.Describe(e.Name, e.Description)
			}
		case e.Result != nil:
			result := normalize(e.Result)
			if err := r.Register(e.Name, e.Description, func(context.Context, map[string]interface{}) (interface{}, error) {
				return result, nil
			}); err != nil {
				return err
			}
		default:
			slog.Warn(fmt.Sprintf("%s - Catalog entry %s matches no tool and has no result", catalogLogPrefix, e.Name))
		}
	}
	return nil
}

// normalize converts YAML maps with interface keys into JSON-encodable maps.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
