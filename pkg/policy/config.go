package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pixperk/stompguard/pkg/types"
)

// Config is the policy table read once at startup. Classes that are not
// listed keep their built-in values; listed classes override only the
// fields they set.
type Config struct {
	Classes map[string]ClassConfig `yaml:"classes"`
}

// ClassConfig overrides a single resource class.
type ClassConfig struct {
	LeaseTTL           *Duration `yaml:"lease_ttl,omitempty"`
	InteractiveMaxWait *Duration `yaml:"interactive_max_wait,omitempty"`
	BatchMaxWait       *Duration `yaml:"batch_max_wait,omitempty"`
	ConflictStrategy   string    `yaml:"conflict_strategy,omitempty"`
}

// Duration accepts Go duration strings such as "500ms" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("%w: line %d: duration must be a string", types.ErrInvalidConfig, value.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: line %d: %v", types.ErrInvalidConfig, value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// LoadConfig reads a YAML policy file. An empty path yields an empty config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read policy config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes a YAML policy table.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse policy config: %w", err)
	}
	return cfg, nil
}

// apply overlays cc on class
func (cc ClassConfig) apply(class types.ResourceClass) (types.ResourceClass, error) {
	if cc.LeaseTTL != nil {
		class.LeaseTTL = time.Duration(*cc.LeaseTTL)
	}
	if cc.InteractiveMaxWait != nil {
		class.InteractiveMaxWait = time.Duration(*cc.InteractiveMaxWait)
	}
	if cc.BatchMaxWait != nil {
		class.BatchMaxWait = time.Duration(*cc.BatchMaxWait)
	}
	if cc.ConflictStrategy != "" {
		strategy, err := types.ParseConflictStrategy(cc.ConflictStrategy)
		if err != nil {
			return class, err
		}
		class.ConflictStrategy = strategy
	}
	return class, nil
}
