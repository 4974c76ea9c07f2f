package board

import (
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/sensord-io/sensord/utils"
)

// A Config describes a board instance. Configs are immutable once a board
// has been constructed from them.
type Config struct {
	Model      string `json:"board_type"` // example: "gpio"
	Name       string `json:"name"`
	I2CEnabled *bool  `json:"i2c_enabled,omitempty"`
	SPIEnabled bool   `json:"spi_enabled,omitempty"`
	I2CBus     int    `json:"i2c_bus,omitempty"`
	SPIBus     int    `json:"spi_bus,omitempty"`
	SPIDevice  int    `json:"spi_device,omitempty"`

	// VoltageLevel is the default supply level on boards with voltage
	// control; boards without it ignore the field.
	VoltageLevel VoltageLevel `json:"voltage_level,omitempty"`

	// Attributes carries model specific settings a driver may consult.
	Attributes utils.AttributeMap `json:"attributes,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	if config.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if config.Model == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "board_type")
	}
	if config.VoltageLevel != "" && !config.VoltageLevel.Valid() {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("unknown voltage_level %q", config.VoltageLevel))
	}
	return nil
}

// I2COn reports whether the I2C bus should be brought up; it defaults on.
func (config *Config) I2COn() bool {
	return config.I2CEnabled == nil || *config.I2CEnabled
}

// DefaultVoltage returns the configured default supply level, 3.3V if unset.
func (config *Config) DefaultVoltage() VoltageLevel {
	if config.VoltageLevel == "" {
		return Voltage3V3
	}
	return config.VoltageLevel
}
