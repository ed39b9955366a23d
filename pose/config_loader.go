package pose

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the service configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks required fields and estimator settings
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return fmt.Errorf("at least one camera must be defined")
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i, cc := range c.Cameras {
		if cc.ID == "" {
			return fmt.Errorf("camera[%d].id is required", i)
		}
		if seen[cc.ID] {
			return fmt.Errorf("camera[%d].id %q is duplicated", i, cc.ID)
		}
		seen[cc.ID] = true
		if c.MQTT.Broker != "" && cc.Topic == "" {
			return fmt.Errorf("camera[%d].topic is required for %s when mqtt.broker is set", i, cc.ID)
		}
	}

	if c.GridSpacing < 0 {
		return fmt.Errorf("gridSpacing must not be negative")
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("historySize must not be negative")
	}
	if c.Estimator.TimeoutMS < 0 {
		return fmt.Errorf("estimator.timeoutMs must not be negative")
	}
	if _, err := c.Estimator.EstimatorConfig(0); err != nil {
		return err
	}
	return nil
}
