package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/sensord-io/sensord/board"
)

// A Device is a 256 byte register file standing in for one chip on the
// simulated bus. Reads auto-increment an internal register pointer the way
// most real devices do.
type Device struct {
	mu   sync.Mutex
	regs [256]byte
	ptr  byte
}

// NewDevice returns a device with all registers zeroed.
func NewDevice() *Device {
	return &Device{}
}

// SetReg writes one register, typically to seed fixtures.
func (d *Device) SetReg(register, value byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[register] = value
}

// LoadBlock writes a run of registers starting at register.
func (d *Device) LoadBlock(register byte, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range data {
		d.regs[int(register)+i] = b
	}
}

// I2C simulates a board bus with register addressable devices. Opening a
// handle to an address with no device fails, which is what makes the bus
// probe-able for scans.
type I2C struct {
	mu      sync.Mutex
	devices map[byte]*Device
}

// NewI2C returns an empty simulated bus.
func NewI2C() *I2C {
	return &I2C{devices: map[byte]*Device{}}
}

// AddDevice places a device at the given address.
func (bus *I2C) AddDevice(addr byte, dev *Device) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.devices[addr] = dev
}

// Device returns the device at addr so tests can seed its registers.
func (bus *I2C) Device(addr byte) (*Device, bool) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	dev, ok := bus.devices[addr]
	return dev, ok
}

// OpenHandle returns a handle to the device at addr.
func (bus *I2C) OpenHandle(addr byte) (board.I2CHandle, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	dev, ok := bus.devices[addr]
	if !ok {
		return nil, errors.Errorf("no i2c device at address 0x%x", addr)
	}
	return &i2cHandle{dev: dev}, nil
}

type i2cHandle struct {
	dev *Device
}

func (h *i2cHandle) Write(ctx context.Context, tx []byte) error {
	if len(tx) == 0 {
		return errors.New("empty i2c write")
	}
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	h.dev.ptr = tx[0]
	for i, b := range tx[1:] {
		h.dev.regs[int(tx[0])+i] = b
	}
	return nil
}

func (h *i2cHandle) Read(ctx context.Context, count int) ([]byte, error) {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	out := make([]byte, count)
	for i := range out {
		out[i] = h.dev.regs[int(h.dev.ptr)+i]
	}
	return out, nil
}

func (h *i2cHandle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	return h.dev.regs[register], nil
}

func (h *i2cHandle) WriteByteData(ctx context.Context, register, data byte) error {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	h.dev.regs[register] = data
	return nil
}

func (h *i2cHandle) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	out := make([]byte, numBytes)
	for i := range out {
		out[i] = h.dev.regs[int(register)+i]
	}
	return out, nil
}

func (h *i2cHandle) Close() error {
	return nil
}

// SPI simulates a bus no device is attached to: transfers succeed and read
// back zeroes.
type SPI struct{}

// OpenHandle returns a handle to the simulated bus.
func (s *SPI) OpenHandle() (board.SPIHandle, error) {
	return &spiHandle{}, nil
}

type spiHandle struct{}

func (h *spiHandle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	return make([]byte, len(tx)), nil
}

func (h *spiHandle) Close() error {
	return nil
}
