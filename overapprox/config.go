package overapprox

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the configuration file read when no path is given.
const DefaultConfigPath = "over-approximation.yaml"

// Config maps qualified function names, as printed by (*ssa.Function).String,
// to their approximation settings.
type Config map[string]FunctionConfig

// FunctionConfig describes how calls to a single function are approximated.
type FunctionConfig struct {
	// Zero-based indices of pointer or slice arguments whose pointee is
	// replaced by fresh symbolic content. A method receiver is index 0.
	WritableMemoryArguments []int `yaml:"writable_memory_arguments"`

	// Optional inclusive signed bounds on the synthesized return value.
	ReturnRange []int64 `yaml:"return_range"`
}

// ParseConfig decodes and validates a YAML configuration document.
func ParseConfig(data []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("overapprox: failed to parse: %w", err)
	} else if err := config.Validate(); err != nil {
		return nil, err
	}
	if config == nil {
		config = make(Config)
	}
	return config, nil
}

// LoadConfig reads and parses the configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("overapprox: failed to read %q: %w", path, err)
	}
	return ParseConfig(data)
}

// Validate returns an error if any function entry is malformed.
func (c Config) Validate() error {
	for _, name := range c.Names() {
		fc := c[name]
		for _, idx := range fc.WritableMemoryArguments {
			if idx < 0 {
				return fmt.Errorf("overapprox: %s: negative argument index: %d", name, idx)
			}
		}

		switch len(fc.ReturnRange) {
		case 0:
		case 2:
			if fc.ReturnRange[0] > fc.ReturnRange[1] {
				return fmt.Errorf("overapprox: %s: inverted return range: [%d, %d]", name, fc.ReturnRange[0], fc.ReturnRange[1])
			}
		default:
			return fmt.Errorf("overapprox: %s: return range requires two bounds, got %d", name, len(fc.ReturnRange))
		}
	}
	return nil
}

// Names returns the configured function names in sorted order.
func (c Config) Names() []string {
	a := make([]string, 0, len(c))
	for name := range c {
		a = append(a, name)
	}
	sort.Strings(a)
	return a
}
