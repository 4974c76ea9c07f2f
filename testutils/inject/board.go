// Package inject provides partial mocks of the core interfaces where any
// method can be overridden per test through a function field; calls fall
// through to the embedded value when no override is set.
package inject

import (
	"context"

	"github.com/sensord-io/sensord/board"
)

type Board struct {
	board.Board
	NameFunc            func() string
	InitializeFunc      func(ctx context.Context) error
	CleanupFunc         func(ctx context.Context) error
	SetupPinFunc        func(ctx context.Context, cfg board.PinConfig) error
	ReadDigitalFunc     func(ctx context.Context, pin int) (bool, error)
	WriteDigitalFunc    func(ctx context.Context, pin int, high bool) error
	ReadAnalogFunc      func(ctx context.Context, channel int) (float64, error)
	WritePWMFunc        func(ctx context.Context, pin int, dutyCyclePct float64) error
	SetVoltageLevelFunc func(ctx context.Context, level board.VoltageLevel, channel int) error
	CapabilitiesFunc    func() []board.Capability
	I2CFunc             func() (board.I2C, error)
	SPIFunc             func() (board.SPI, error)
	ScanI2CFunc         func(ctx context.Context) ([]int, error)
	SelfTestFunc        func(ctx context.Context) (map[string]interface{}, error)
}

func (b *Board) Name() string {
	if b.NameFunc == nil {
		return b.Board.Name()
	}
	return b.NameFunc()
}

func (b *Board) Initialize(ctx context.Context) error {
	if b.InitializeFunc == nil {
		return b.Board.Initialize(ctx)
	}
	return b.InitializeFunc(ctx)
}

func (b *Board) Cleanup(ctx context.Context) error {
	if b.CleanupFunc == nil {
		return b.Board.Cleanup(ctx)
	}
	return b.CleanupFunc(ctx)
}

func (b *Board) SetupPin(ctx context.Context, cfg board.PinConfig) error {
	if b.SetupPinFunc == nil {
		return b.Board.SetupPin(ctx, cfg)
	}
	return b.SetupPinFunc(ctx, cfg)
}

func (b *Board) ReadDigital(ctx context.Context, pin int) (bool, error) {
	if b.ReadDigitalFunc == nil {
		return b.Board.ReadDigital(ctx, pin)
	}
	return b.ReadDigitalFunc(ctx, pin)
}

func (b *Board) WriteDigital(ctx context.Context, pin int, high bool) error {
	if b.WriteDigitalFunc == nil {
		return b.Board.WriteDigital(ctx, pin, high)
	}
	return b.WriteDigitalFunc(ctx, pin, high)
}

func (b *Board) ReadAnalog(ctx context.Context, channel int) (float64, error) {
	if b.ReadAnalogFunc == nil {
		return b.Board.ReadAnalog(ctx, channel)
	}
	return b.ReadAnalogFunc(ctx, channel)
}

func (b *Board) WritePWM(ctx context.Context, pin int, dutyCyclePct float64) error {
	if b.WritePWMFunc == nil {
		return b.Board.WritePWM(ctx, pin, dutyCyclePct)
	}
	return b.WritePWMFunc(ctx, pin, dutyCyclePct)
}

func (b *Board) SetVoltageLevel(ctx context.Context, level board.VoltageLevel, channel int) error {
	if b.SetVoltageLevelFunc == nil {
		return b.Board.SetVoltageLevel(ctx, level, channel)
	}
	return b.SetVoltageLevelFunc(ctx, level, channel)
}

func (b *Board) Capabilities() []board.Capability {
	if b.CapabilitiesFunc == nil {
		return b.Board.Capabilities()
	}
	return b.CapabilitiesFunc()
}

func (b *Board) I2C() (board.I2C, error) {
	if b.I2CFunc == nil {
		return b.Board.I2C()
	}
	return b.I2CFunc()
}

func (b *Board) SPI() (board.SPI, error) {
	if b.SPIFunc == nil {
		return b.Board.SPI()
	}
	return b.SPIFunc()
}

func (b *Board) ScanI2C(ctx context.Context) ([]int, error) {
	if b.ScanI2CFunc == nil {
		return b.Board.ScanI2C(ctx)
	}
	return b.ScanI2CFunc(ctx)
}

func (b *Board) SelfTest(ctx context.Context) (map[string]interface{}, error) {
	if b.SelfTestFunc == nil {
		return b.Board.SelfTest(ctx)
	}
	return b.SelfTestFunc(ctx)
}
