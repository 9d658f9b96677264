package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Params is the run's configuration: a flat key-value map loaded once per
// run and exposed read-only to task bodies and command templates. The engine
// is agnostic to what the keys mean; recognized options are defined by the
// pipeline (e.g. trim_min_length, assembly_num_threads).
type Params map[string]string

// Load reads parameter files in order of increasing precedence and merges
// them: later files override earlier ones. Missing files are skipped;
// malformed YAML is an error. Nested mappings flatten with underscores, so
//
//	trim:
//	  min_length: 50
//
// becomes trim_min_length=50.
func Load(paths ...string) (Params, error) {
	params := make(Params)
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := mergeFile(params, path); err != nil {
			return nil, err
		}
	}
	return params, nil
}

func mergeFile(params Params, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	flatten(params, "", doc)
	return nil
}

func flatten(params Params, prefix string, node map[string]interface{}) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "_" + key
		}
		switch v := value.(type) {
		case map[string]interface{}:
			flatten(params, full, v)
		case nil:
			params[full] = ""
		default:
			params[full] = fmt.Sprintf("%v", v)
		}
	}
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
