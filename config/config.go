// Package config describes the daemon's startup configuration: the host
// board and the sensors to register on it.
package config

import (
	"fmt"

	goutils "go.viam.com/utils"

	"github.com/sensord-io/sensord/board"
	"github.com/sensord-io/sensord/sensor"
)

// A Config is the full daemon configuration as read from disk.
type Config struct {
	Board   board.Config    `json:"board"`
	Sensors []sensor.Config `json:"sensors"`

	// Simulate forces simulated drivers for everything, no matter what the
	// host could support.
	Simulate bool `json:"simulate,omitempty"`
}

// Validate checks the whole tree and rejects duplicate sensor names early,
// before the device manager would at registration time.
func (c *Config) Validate() error {
	if err := c.Board.Validate("board"); err != nil {
		return err
	}

	seen := map[string]bool{}
	for idx, sc := range c.Sensors {
		path := fmt.Sprintf("sensors.%d", idx)
		if err := sc.Validate(path); err != nil {
			return err
		}
		if seen[sc.Name] {
			return goutils.NewConfigValidationError(path,
				fmt.Errorf("duplicate sensor name %q", sc.Name))
		}
		seen[sc.Name] = true
	}
	return nil
}

// EnabledSensors returns the sensor configs that should be registered.
func (c *Config) EnabledSensors() []sensor.Config {
	out := make([]sensor.Config, 0, len(c.Sensors))
	for _, sc := range c.Sensors {
		if sc.IsEnabled() {
			out = append(out, sc)
		}
	}
	return out
}
