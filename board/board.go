// Package board defines the hardware abstraction for a host board: digital
// and analog pin I/O, PWM, bus access, voltage selection and self testing.
// Real and simulated boards implement the same interface; the difference is
// only visible through the capability set each variant advertises.
package board

import (
	"context"

	"github.com/sensord-io/sensord/utils"
)

// Capability names advertised by the built in boards.
const (
	CapDigitalIO             = "digital_io"
	CapPWM                   = "pwm"
	CapI2C                   = "i2c"
	CapSPI                   = "spi"
	CapAnalogInput           = "analog_input"
	CapVoltageControl        = "voltage_control"
	CapOvercurrentProtection = "overcurrent_protection"
)

// A Capability is a named boolean-gated feature of a board with optional
// metadata. Capability sets are immutable after board construction.
type Capability struct {
	Name        string             `json:"name"`
	Available   bool               `json:"available"`
	Description string             `json:"description"`
	Metadata    utils.AttributeMap `json:"metadata,omitempty"`
}

// CapabilityAvailable reports whether the named capability is present and
// available in the given set.
func CapabilityAvailable(caps []Capability, name string) bool {
	for _, c := range caps {
		if c.Name == name {
			return c.Available
		}
	}
	return false
}

// VoltageLevel is a selectable supply voltage on boards with voltage control.
type VoltageLevel string

// Supported voltage levels.
const (
	Voltage3V3 = VoltageLevel("3.3V")
	Voltage5V  = VoltageLevel("5V")
	Voltage12V = VoltageLevel("12V")
)

// Volts returns the numeric value of the level, or 0 for an unknown one.
func (v VoltageLevel) Volts() float64 {
	switch v {
	case Voltage3V3:
		return 3.3
	case Voltage5V:
		return 5
	case Voltage12V:
		return 12
	}
	return 0
}

// Valid reports whether the level is one of the supported values.
func (v VoltageLevel) Valid() bool {
	return v.Volts() != 0
}

// PinMode selects what a pin is used for.
type PinMode string

// Pin modes.
const (
	PinInput  = PinMode("input")
	PinOutput = PinMode("output")
	PinPWM    = PinMode("pwm")
	PinAnalog = PinMode("analog")
)

// PinPull selects the pull resistor wiring for an input pin.
type PinPull string

// Pull resistor configurations.
const (
	PullNone = PinPull("none")
	PullUp   = PinPull("pull_up")
	PullDown = PinPull("pull_down")
)

// A PinConfig describes how one pin should be set up.
type PinConfig struct {
	Pin         int     `json:"pin_number"`
	Mode        PinMode `json:"mode"`
	Pull        PinPull `json:"pull,omitempty"`
	InitialHigh *bool   `json:"initial_value,omitempty"`
	PWMFreqHz   int     `json:"pwm_frequency,omitempty"`
}

// AllChannels passed as the channel argument applies a voltage change to
// every channel the board has.
const AllChannels = -1

// A Board is a host board, real or simulated. Operations a variant does not
// support fail with an unsupported error rather than crashing; callers are
// expected to consult Capabilities first.
type Board interface {
	// Name returns the configured instance name.
	Name() string

	// Initialize claims host resources and builds the capability set.
	Initialize(ctx context.Context) error

	// Cleanup releases pins, buses and any held outputs. Best effort; it
	// reports the combined failures but releases everything it can.
	Cleanup(ctx context.Context) error

	// SetupPin configures one pin for subsequent I/O.
	SetupPin(ctx context.Context, cfg PinConfig) error

	// ReadDigital reports whether the pin reads high.
	ReadDigital(ctx context.Context, pin int) (bool, error)

	// WriteDigital drives the pin high or low.
	WriteDigital(ctx context.Context, pin int, high bool) error

	// ReadAnalog returns the voltage on an ADC channel.
	ReadAnalog(ctx context.Context, channel int) (float64, error)

	// WritePWM sets the duty cycle, expressed in [0, 1], on a PWM pin.
	WritePWM(ctx context.Context, pin int, dutyCyclePct float64) error

	// SetVoltageLevel selects the supply voltage for one channel, or for
	// all of them when channel is AllChannels.
	SetVoltageLevel(ctx context.Context, level VoltageLevel, channel int) error

	// Capabilities returns the advertised capability set.
	Capabilities() []Capability

	// I2C returns the board's I2C bus.
	I2C() (I2C, error)

	// SPI returns the board's SPI bus.
	SPI() (SPI, error)

	// ScanI2C probes the I2C bus and returns the addresses that answered.
	ScanI2C(ctx context.Context) ([]int, error)

	// SelfTest exercises the board and reports what it found.
	SelfTest(ctx context.Context) (map[string]interface{}, error)
}

// An I2C represents a bus on a board. Handles are opened per device address
// and must be closed after use.
type I2C interface {
	OpenHandle(addr byte) (I2CHandle, error)
}

// An I2CHandle is a lease to speak to one device on an I2C bus.
type I2CHandle interface {
	Write(ctx context.Context, tx []byte) error
	Read(ctx context.Context, count int) ([]byte, error)
	ReadByteData(ctx context.Context, register byte) (byte, error)
	WriteByteData(ctx context.Context, register, data byte) error
	ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error)
	Close() error
}

// An SPI represents a bus on a board. Handles serialize access to the bus.
type SPI interface {
	OpenHandle() (SPIHandle, error)
}

// An SPIHandle is a lease on an SPI bus for full-duplex transfers.
type SPIHandle interface {
	Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error)
	Close() error
}
