// Package fake implements simulated boards.
//
// Two models exist: "gpio", a plain header of digital pins with I2C and PWM,
// and "custom", the carrier board variant that adds a 4 channel ADC,
// per-channel voltage selection and overcurrent protection. The simulated I2C
// bus carries register-backed devices so register-level drivers run unchanged
// against it.
package fake

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/sensord-io/sensord/board"
	"github.com/sensord-io/sensord/utils"
)

// Simulated board models.
const (
	ModelGPIO   = "gpio"
	ModelCustom = "custom"
)

// AttrFailNew makes construction fail, exercising resolver fallback.
const AttrFailNew = "fail_new"

// Simulated devices present on the bus: environmental sensors at the usual
// Bosch addresses, and on the custom model the carrier's ADC.
const (
	addrBME280 = 0x76
	addrBMP280 = 0x77
	addrADC    = 0x48

	chipIDReg    = 0xD0
	chipIDBME280 = 0x60
	chipIDBMP280 = 0x58
)

// Status LED pins on the custom carrier.
const (
	statusLEDPower    = 17
	statusLEDError    = 27
	statusLEDActivity = 22
)

const adcChannels = 4

func init() {
	for _, model := range []string{ModelGPIO, ModelCustom} {
		board.RegisterSimBoard(model, func(
			ctx context.Context,
			cfg board.Config,
			logger golog.Logger,
		) (board.Board, error) {
			if cfg.Attributes.GetBool(AttrFailNew, false) {
				return nil, errors.New("whoops")
			}
			return NewBoard(model, cfg, logger), nil
		})
	}
	// Unknown models get the full feature set so no sensor is left without
	// its interface; the last resort does not honor fail_new.
	board.RegisterGenericSimBoard(func(
		ctx context.Context,
		cfg board.Config,
		logger golog.Logger,
	) (board.Board, error) {
		logger.Debugw("standing in for unknown board model", "board_type", cfg.Model)
		return NewBoard(ModelCustom, cfg, logger), nil
	})
}

// A Board simulates host hardware in memory: digital pins are plain state,
// analog channels random walk, and voltage selection is bookkeeping.
type Board struct {
	name   string
	model  string
	cfg    board.Config
	logger golog.Logger
	i2c    *I2C
	spi    *SPI

	mu          sync.Mutex
	initialized bool
	pinStates   map[int]bool
	pinConfigs  map[int]board.PinConfig
	pwm         map[int]float64
	analog      map[int]float64
	voltages    map[int]board.VoltageLevel
	caps        []board.Capability
	rnd         *rand.Rand

	// CloseCount tracks Cleanup calls for tests.
	CloseCount int
}

// NewBoard returns a simulated board of the given model.
func NewBoard(model string, cfg board.Config, logger golog.Logger) *Board {
	bus := NewI2C()
	bme := NewDevice()
	bme.SetReg(chipIDReg, chipIDBME280)
	bus.AddDevice(addrBME280, bme)
	bmp := NewDevice()
	bmp.SetReg(chipIDReg, chipIDBMP280)
	bus.AddDevice(addrBMP280, bmp)
	if model == ModelCustom {
		bus.AddDevice(addrADC, NewDevice())
	}

	//nolint:gosec
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Board{
		name:       cfg.Name,
		model:      model,
		cfg:        cfg,
		logger:     logger,
		i2c:        bus,
		spi:        &SPI{},
		pinStates:  map[int]bool{},
		pinConfigs: map[int]board.PinConfig{},
		pwm:        map[int]float64{},
		analog:     map[int]float64{},
		voltages:   map[int]board.VoltageLevel{},
		rnd:        rnd,
	}
}

// Name returns the configured instance name.
func (b *Board) Name() string {
	return b.name
}

// Initialize builds the capability set and seeds simulated state.
func (b *Board) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.model {
	case ModelCustom:
		b.caps = []board.Capability{
			{Name: board.CapDigitalIO, Available: true, Description: "Digital input/output"},
			{Name: board.CapPWM, Available: true, Description: "PWM output"},
			{
				Name: board.CapI2C, Available: b.cfg.I2COn(),
				Description: "I2C communication",
				Metadata:    utils.AttributeMap{"bus": b.cfg.I2CBus},
			},
			{Name: board.CapSPI, Available: b.cfg.SPIEnabled, Description: "SPI communication"},
			{
				Name: board.CapAnalogInput, Available: true,
				Description: "16-bit ADC with 4 channels",
				Metadata:    utils.AttributeMap{"channels": adcChannels, "resolution": 16},
			},
			{
				Name: board.CapVoltageControl, Available: true,
				Description: "Per-channel voltage selection (3.3V, 5V, 12V)",
				Metadata: utils.AttributeMap{
					"levels":   []interface{}{"3.3V", "5V", "12V"},
					"channels": adcChannels,
				},
			},
			{Name: board.CapOvercurrentProtection, Available: true, Description: "Hardware overcurrent protection"},
		}
	default:
		b.caps = []board.Capability{
			{
				Name: board.CapDigitalIO, Available: true,
				Description: "Digital GPIO pins",
				Metadata:    utils.AttributeMap{"pin_count": 28},
			},
			{
				Name: board.CapPWM, Available: true,
				Description: "PWM output",
				Metadata:    utils.AttributeMap{"channels": 2},
			},
			{
				Name: board.CapI2C, Available: b.cfg.I2COn(),
				Description: "I2C communication bus",
				Metadata:    utils.AttributeMap{"bus": b.cfg.I2CBus},
			},
			{Name: board.CapSPI, Available: b.cfg.SPIEnabled, Description: "SPI communication"},
			{Name: board.CapAnalogInput, Available: false, Description: "Analog input requires the custom carrier board"},
			{Name: board.CapVoltageControl, Available: false, Description: "Voltage control requires the custom carrier board"},
		}
	}

	for ch := 0; ch < adcChannels; ch++ {
		b.analog[ch] = 0.5 + b.rnd.Float64()*2.5
		b.voltages[ch] = b.cfg.DefaultVoltage()
	}
	if b.model == ModelCustom {
		b.pinStates[statusLEDPower] = true
	}

	b.initialized = true
	b.logger.Infow("simulated board initialized",
		"board", b.name, "model", b.model, "capabilities", len(b.caps))
	return nil
}

// Cleanup releases all simulated state. Safe to call repeatedly.
func (b *Board) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pinStates = map[int]bool{}
	b.pinConfigs = map[int]board.PinConfig{}
	b.pwm = map[int]float64{}
	for ch := 0; ch < adcChannels; ch++ {
		b.voltages[ch] = b.cfg.DefaultVoltage()
	}
	b.initialized = false
	b.CloseCount++
	b.logger.Infow("simulated board cleaned up", "board", b.name)
	return nil
}

// SetupPin records the pin configuration and applies any initial value.
func (b *Board) SetupPin(ctx context.Context, cfg board.PinConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pinConfigs[cfg.Pin] = cfg
	if cfg.Mode == board.PinOutput && cfg.InitialHigh != nil {
		b.pinStates[cfg.Pin] = *cfg.InitialHigh
	}
	b.logger.Debugw("pin configured", "board", b.name, "pin", cfg.Pin, "mode", cfg.Mode)
	return nil
}

// ReadDigital reports the stored pin state. Pins configured as inputs flip
// on roughly one read in ten so downstream code sees both levels.
func (b *Board) ReadDigital(ctx context.Context, pin int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cfg, ok := b.pinConfigs[pin]; ok && cfg.Mode == board.PinInput && b.rnd.Float64() < 0.1 {
		b.pinStates[pin] = !b.pinStates[pin]
	}
	return b.pinStates[pin], nil
}

// WriteDigital stores the pin state.
func (b *Board) WriteDigital(ctx context.Context, pin int, high bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pinStates[pin] = high
	return nil
}

// ReadAnalog returns the channel's random-walking voltage.
func (b *Board) ReadAnalog(ctx context.Context, channel int) (float64, error) {
	if b.model != ModelCustom {
		return 0, utils.NewUnsupportedError("analog input", b.name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if channel < 0 || channel >= adcChannels {
		return 0, errors.Errorf("analog channel %d out of range on %q", channel, b.name)
	}

	v := b.analog[channel] + b.rnd.NormFloat64()*0.05
	if v < 0 {
		v = 0
	}
	if v > 5 {
		v = 5
	}
	b.analog[channel] = v
	return v, nil
}

// SetAnalog pins a channel to a fixed value for tests; the random walk
// continues from it.
func (b *Board) SetAnalog(channel int, value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.analog[channel] = value
}

// WritePWM stores the duty cycle, clamped to [0, 1].
func (b *Board) WritePWM(ctx context.Context, pin int, dutyCyclePct float64) error {
	if dutyCyclePct < 0 {
		dutyCyclePct = 0
	}
	if dutyCyclePct > 1 {
		dutyCyclePct = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pwm[pin] = dutyCyclePct
	return nil
}

// PWM returns the stored duty cycle for a pin.
func (b *Board) PWM(pin int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pwm[pin]
}

// SetVoltageLevel records the supply selection for one channel or all of
// them.
func (b *Board) SetVoltageLevel(ctx context.Context, level board.VoltageLevel, channel int) error {
	if b.model != ModelCustom {
		return utils.NewUnsupportedError("voltage control", b.name)
	}
	if !level.Valid() {
		return errors.Errorf("unknown voltage level %q", level)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if channel == board.AllChannels {
		for ch := 0; ch < adcChannels; ch++ {
			b.voltages[ch] = level
		}
		b.logger.Infow("set all channels", "board", b.name, "level", level)
		return nil
	}
	if channel < 0 || channel >= adcChannels {
		return errors.Errorf("voltage channel %d out of range on %q", channel, b.name)
	}
	b.voltages[channel] = level
	b.logger.Infow("set channel voltage", "board", b.name, "channel", channel, "level", level)
	return nil
}

// VoltageLevel returns the stored supply selection for a channel.
func (b *Board) VoltageLevel(channel int) board.VoltageLevel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voltages[channel]
}

// Capabilities returns the advertised capability set.
func (b *Board) Capabilities() []board.Capability {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]board.Capability, len(b.caps))
	copy(out, b.caps)
	return out
}

// I2C returns the simulated bus.
func (b *Board) I2C() (board.I2C, error) {
	if !b.cfg.I2COn() {
		return nil, utils.NewUnsupportedError("i2c", b.name)
	}
	return b.i2c, nil
}

// SimI2C returns the concrete simulated bus so tests can seed devices.
func (b *Board) SimI2C() *I2C {
	return b.i2c
}

// SPI returns the simulated bus.
func (b *Board) SPI() (board.SPI, error) {
	if !b.cfg.SPIEnabled {
		return nil, utils.NewUnsupportedError("spi", b.name)
	}
	return b.spi, nil
}

// ScanI2C probes every assignable address and returns those that answered.
func (b *Board) ScanI2C(ctx context.Context) ([]int, error) {
	if !b.cfg.I2COn() {
		return nil, utils.NewUnsupportedError("i2c", b.name)
	}

	var found []int
	for addr := 0x03; addr <= 0x77; addr++ {
		h, err := b.i2c.OpenHandle(byte(addr))
		if err != nil {
			continue
		}
		goutils.UncheckedError(h.Close())
		found = append(found, addr)
	}
	sort.Ints(found)
	b.logger.Infow("i2c scan complete", "board", b.name, "devices", len(found))
	return found, nil
}

// SelfTest exercises each subsystem and reports what it found.
func (b *Board) SelfTest(ctx context.Context) (map[string]interface{}, error) {
	b.mu.Lock()
	initialized := b.initialized
	capCount := len(b.caps)
	b.mu.Unlock()

	tests := map[string]interface{}{}
	results := map[string]interface{}{
		"board":        b.model,
		"name":         b.name,
		"initialized":  initialized,
		"capabilities": capCount,
		"tests":        tests,
	}

	const testPin = 4
	if err := b.WriteDigital(ctx, testPin, true); err != nil {
		return results, err
	}
	v, err := b.ReadDigital(ctx, testPin)
	if err != nil {
		return results, err
	}
	tests["gpio"] = map[string]interface{}{
		"success":    true,
		"test_pin":   testPin,
		"test_value": v,
	}

	if b.cfg.I2COn() {
		devices, err := b.ScanI2C(ctx)
		if err != nil {
			return results, err
		}
		addresses := make([]string, 0, len(devices))
		for _, addr := range devices {
			addresses = append(addresses, fmt.Sprintf("0x%02x", addr))
		}
		tests["i2c"] = map[string]interface{}{
			"success":       true,
			"devices_found": len(devices),
			"addresses":     addresses,
		}
	}

	if b.model == ModelCustom {
		adcValue, err := b.ReadAnalog(ctx, 0)
		if err != nil {
			return results, err
		}
		tests["adc"] = map[string]interface{}{
			"success":      true,
			"test_channel": 0,
			"test_value":   fmt.Sprintf("%.3fV", adcValue),
		}

		// exercise voltage selection, then put the channel back
		previous := b.VoltageLevel(0)
		if err := b.SetVoltageLevel(ctx, board.Voltage5V, 0); err != nil {
			return results, err
		}
		tests["voltage_control"] = map[string]interface{}{
			"success":      true,
			"test_channel": 0,
			"test_level":   string(board.Voltage5V),
		}
		if err := b.SetVoltageLevel(ctx, previous, 0); err != nil {
			return results, err
		}
	}

	return results, nil
}
