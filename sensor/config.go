package sensor

import (
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/sensord-io/sensord/utils"
)

// DefaultPollIntervalSec is used when a config does not set an interval.
const DefaultPollIntervalSec = 1.0

// A Config describes one sensor instance. The name doubles as the sensor id
// within the device manager. Everything but the calibration map is immutable
// once the sensor has been constructed.
type Config struct {
	Name             string             `json:"name"`
	Model            string             `json:"driver"`
	ConnectionType   ConnectionType     `json:"connection_type"`
	ConnectionParams utils.AttributeMap `json:"connection_params"`
	PollIntervalSec  float64            `json:"poll_interval"`
	Enabled          *bool              `json:"enabled,omitempty"`
	Calibration      utils.AttributeMap `json:"calibration,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	if config.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if config.Model == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "driver")
	}
	if config.PollIntervalSec < 0 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("poll_interval cannot be negative, got %v", config.PollIntervalSec))
	}
	return nil
}

// IsEnabled reports whether the sensor should be constructed; configs are
// enabled unless they say otherwise.
func (config *Config) IsEnabled() bool {
	return config.Enabled == nil || *config.Enabled
}

// PollInterval returns the configured cadence as a duration, falling back to
// the default when unset.
func (config *Config) PollInterval() time.Duration {
	sec := config.PollIntervalSec
	if sec <= 0 {
		sec = DefaultPollIntervalSec
	}
	return time.Duration(sec * float64(time.Second))
}
