//go:build linux

// Package genericlinux drives a generic Linux host board: GPIO through the
// /dev/gpiochipN character devices and I2C/SPI through the kernel's bus
// devices via periph.io. There is no onboard ADC or voltage switching on a
// stock Linux SBC, so those capabilities are advertised unavailable.
package genericlinux

import (
	"context"
	"fmt"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/sensord-io/sensord/board"
	"github.com/sensord-io/sensord/utils"
)

// Model is the board type this package registers.
const Model = "gpio"

// AttrGPIOChip overrides the default gpio character device path.
const AttrGPIOChip = "gpio_chip"

const defaultGPIOChip = "/dev/gpiochip0"

func init() {
	board.RegisterBoard(Model, func(ctx context.Context, cfg board.Config, logger golog.Logger) (board.Board, error) {
		return newBoard(cfg, logger)
	})
}

// Board is a real Linux host board.
type Board struct {
	name   string
	cfg    board.Config
	logger golog.Logger

	chipPath string

	mu          sync.Mutex
	initialized bool
	pins        map[int]*gpioPin
	i2cBus      *i2cBus
	spiBus      *spiBus
	caps        []board.Capability

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

func newBoard(cfg board.Config, logger golog.Logger) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing periph host drivers")
	}

	chipPath := defaultGPIOChip
	if cfg.Attributes.Has(AttrGPIOChip) {
		chipPath = cfg.Attributes.GetString(AttrGPIOChip)
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Board{
		name:       cfg.Name,
		cfg:        cfg,
		logger:     logger,
		chipPath:   chipPath,
		pins:       map[int]*gpioPin{},
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// Name returns the configured instance name.
func (b *Board) Name() string {
	return b.name
}

// Initialize opens the configured buses and builds the capability set. A bus
// that fails to open is reported unavailable rather than failing the whole
// board; a host without I2C wired up is still useful for digital I/O.
func (b *Board) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i2cAvailable := false
	if b.cfg.I2COn() {
		bus, err := i2creg.Open(fmt.Sprintf("%d", b.cfg.I2CBus))
		if err != nil {
			b.logger.Warnw("i2c bus unavailable", "bus", b.cfg.I2CBus, "error", err)
		} else {
			b.i2cBus = &i2cBus{bus: bus}
			i2cAvailable = true
		}
	}

	spiAvailable := false
	if b.cfg.SPIEnabled {
		port, err := spireg.Open(fmt.Sprintf("SPI%d.%d", b.cfg.SPIBus, b.cfg.SPIDevice))
		if err != nil {
			b.logger.Warnw("spi bus unavailable",
				"bus", b.cfg.SPIBus, "device", b.cfg.SPIDevice, "error", err)
		} else {
			b.spiBus = &spiBus{port: port}
			spiAvailable = true
		}
	}

	b.caps = []board.Capability{
		{Name: board.CapDigitalIO, Available: true, Description: "GPIO character device lines",
			Metadata: utils.AttributeMap{"chip": b.chipPath}},
		{Name: board.CapPWM, Available: true, Description: "Software PWM on any output line"},
		{Name: board.CapI2C, Available: i2cAvailable, Description: "Kernel I2C bus",
			Metadata: utils.AttributeMap{"bus": b.cfg.I2CBus}},
		{Name: board.CapSPI, Available: spiAvailable, Description: "Kernel SPI bus"},
		{Name: board.CapAnalogInput, Available: false, Description: "No onboard ADC"},
		{Name: board.CapVoltageControl, Available: false, Description: "No switchable supply rails"},
	}
	b.initialized = true
	b.logger.Infow("linux board initialized",
		"board", b.name, "gpio_chip", b.chipPath, "i2c", i2cAvailable, "spi", spiAvailable)
	return nil
}

// Cleanup stops PWM loops, releases every claimed line and closes the buses.
// Best effort all the way down.
func (b *Board) Cleanup(ctx context.Context) error {
	b.cancelFunc()
	b.activeBackgroundWorkers.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	var errs error
	for num, pin := range b.pins {
		if err := pin.close(); err != nil {
			b.logger.Warnw("failed to release gpio line", "pin", num, "error", err)
			errs = multierr.Combine(errs, errors.Wrapf(err, "releasing pin %d", num))
		}
	}
	b.pins = map[int]*gpioPin{}

	if b.i2cBus != nil {
		if err := b.i2cBus.bus.Close(); err != nil {
			errs = multierr.Combine(errs, errors.Wrap(err, "closing i2c bus"))
		}
		b.i2cBus = nil
	}
	if b.spiBus != nil {
		if err := b.spiBus.port.Close(); err != nil {
			errs = multierr.Combine(errs, errors.Wrap(err, "closing spi port"))
		}
		b.spiBus = nil
	}
	b.initialized = false
	return errs
}

// pin returns the pin struct for a line number, creating it on first use.
func (b *Board) pin(num int) (*gpioPin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil, errors.Errorf("board %q not initialized", b.name)
	}
	if num < 0 {
		return nil, errors.Errorf("invalid pin number %d", num)
	}
	p, have := b.pins[num]
	if !have {
		p = &gpioPin{
			devicePath: b.chipPath,
			offset:     uint32(num),
			cancelCtx:  b.cancelCtx,
			waitGroup:  &b.activeBackgroundWorkers,
			logger:     b.logger,
		}
		b.pins[num] = p
	}
	return p, nil
}

// SetupPin claims and configures one line.
func (b *Board) SetupPin(ctx context.Context, cfg board.PinConfig) error {
	if cfg.Mode == board.PinAnalog {
		return utils.NewUnsupportedError("analog pins", b.name)
	}
	p, err := b.pin(cfg.Pin)
	if err != nil {
		return err
	}
	return p.setup(cfg)
}

// ReadDigital reports whether the line reads high.
func (b *Board) ReadDigital(ctx context.Context, pin int) (bool, error) {
	p, err := b.pin(pin)
	if err != nil {
		return false, err
	}
	return p.get()
}

// WriteDigital drives the line.
func (b *Board) WriteDigital(ctx context.Context, pin int, high bool) error {
	p, err := b.pin(pin)
	if err != nil {
		return err
	}
	return p.set(high)
}

// ReadAnalog always fails; a stock Linux SBC has no onboard ADC.
func (b *Board) ReadAnalog(ctx context.Context, channel int) (float64, error) {
	return 0, utils.NewUnsupportedError("analog input", b.name)
}

// WritePWM drives a software PWM signal on the line. Duty is clamped to
// [0, 1].
func (b *Board) WritePWM(ctx context.Context, pin int, dutyCyclePct float64) error {
	if dutyCyclePct < 0 {
		dutyCyclePct = 0
	}
	if dutyCyclePct > 1 {
		dutyCyclePct = 1
	}
	p, err := b.pin(pin)
	if err != nil {
		return err
	}
	return p.setPWM(dutyCyclePct)
}

// SetVoltageLevel always fails; there are no switchable supply rails.
func (b *Board) SetVoltageLevel(ctx context.Context, level board.VoltageLevel, channel int) error {
	return utils.NewUnsupportedError("voltage control", b.name)
}

// Capabilities returns the advertised capability set.
func (b *Board) Capabilities() []board.Capability {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]board.Capability, len(b.caps))
	copy(out, b.caps)
	return out
}

// I2C returns the kernel I2C bus, when it opened.
func (b *Board) I2C() (board.I2C, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.i2cBus == nil {
		return nil, utils.NewUnsupportedError("i2c", b.name)
	}
	return b.i2cBus, nil
}

// SPI returns the kernel SPI bus, when it opened.
func (b *Board) SPI() (board.SPI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spiBus == nil {
		return nil, utils.NewUnsupportedError("spi", b.name)
	}
	return b.spiBus, nil
}

// ScanI2C probes the 7-bit address range and returns every device that
// answered a one byte read.
func (b *Board) ScanI2C(ctx context.Context) ([]int, error) {
	b.mu.Lock()
	bus := b.i2cBus
	b.mu.Unlock()
	if bus == nil {
		return nil, utils.NewUnsupportedError("i2c", b.name)
	}

	var found []int
	buf := make([]byte, 1)
	for addr := 0x03; addr <= 0x77; addr++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if err := bus.bus.Tx(uint16(addr), nil, buf); err == nil {
			found = append(found, addr)
		}
	}
	return found, nil
}

// SelfTest reports what the board has claimed and what it can see.
func (b *Board) SelfTest(ctx context.Context) (map[string]interface{}, error) {
	b.mu.Lock()
	initialized := b.initialized
	pinCount := len(b.pins)
	hasI2C := b.i2cBus != nil
	hasSPI := b.spiBus != nil
	b.mu.Unlock()

	results := map[string]interface{}{
		"board":           "Generic Linux (" + b.chipPath + ")",
		"initialized":     initialized,
		"configured_pins": pinCount,
		"i2c":             hasI2C,
		"spi":             hasSPI,
	}
	if hasI2C {
		devices, err := b.ScanI2C(ctx)
		if err != nil {
			results["i2c_scan"] = map[string]interface{}{"success": false, "error": err.Error()}
		} else {
			hexAddrs := make([]string, 0, len(devices))
			for _, addr := range devices {
				hexAddrs = append(hexAddrs, fmt.Sprintf("0x%02x", addr))
			}
			results["i2c_scan"] = map[string]interface{}{"success": true, "devices": hexAddrs}
		}
	}
	return results, nil
}

// i2cBus adapts a periph bus to the board interface.
type i2cBus struct {
	bus i2c.BusCloser
	mu  sync.Mutex
}

// OpenHandle leases access to one device address. The lease serializes bus
// access until closed.
func (bus *i2cBus) OpenHandle(addr byte) (board.I2CHandle, error) {
	bus.mu.Lock()
	return &i2cHandle{bus: bus, dev: i2c.Dev{Bus: bus.bus, Addr: uint16(addr)}}, nil
}

type i2cHandle struct {
	bus *i2cBus
	dev i2c.Dev
}

func (h *i2cHandle) Write(ctx context.Context, tx []byte) error {
	return h.dev.Tx(tx, nil)
}

func (h *i2cHandle) Read(ctx context.Context, count int) ([]byte, error) {
	buf := make([]byte, count)
	if err := h.dev.Tx(nil, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (h *i2cHandle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	buf := make([]byte, 1)
	if err := h.dev.Tx([]byte{register}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (h *i2cHandle) WriteByteData(ctx context.Context, register, data byte) error {
	return h.dev.Tx([]byte{register, data}, nil)
}

func (h *i2cHandle) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	buf := make([]byte, numBytes)
	if err := h.dev.Tx([]byte{register}, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (h *i2cHandle) Close() error {
	h.bus.mu.Unlock()
	return nil
}

// spiBus adapts a periph SPI port to the board interface.
type spiBus struct {
	port spi.PortCloser
	mu   sync.Mutex
}

// OpenHandle leases the port for a series of transfers.
func (bus *spiBus) OpenHandle() (board.SPIHandle, error) {
	bus.mu.Lock()
	return &spiHandle{bus: bus}, nil
}

type spiHandle struct {
	bus *spiBus
}

// Xfer runs one full-duplex transfer. Chip select is fixed by the kernel
// device node, so the argument only participates in error reporting.
func (h *spiHandle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
	if mode > 3 {
		return nil, errors.Errorf("invalid spi mode %d", mode)
	}
	conn, err := h.bus.port.Connect(physic.Frequency(baud)*physic.Hertz, spi.Mode(mode), 8)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting spi (cs %s)", chipSelect)
	}
	rx := make([]byte, len(tx))
	if err := conn.Tx(tx, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

func (h *spiHandle) Close() error {
	h.bus.mu.Unlock()
	return nil
}
