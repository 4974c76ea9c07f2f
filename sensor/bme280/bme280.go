// Package bme280 implements the Bosch BME280 and BMP280 environmental
// sensors over a board I2C bus. The two chips share registers and
// compensation math; the BMP280 just lacks the humidity channel, which the
// driver detects from the chip id at initialization.
//
// Compensation formulas follow the Bosch datasheet double-precision
// reference implementation.
package bme280

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/sensord-io/sensord/board"
	"github.com/sensord-io/sensord/sensor"
	"github.com/sensord-io/sensord/utils"
)

// Models served by this driver.
const (
	ModelBME280 = "bme280"
	ModelBMP280 = "bmp280"
)

// DefaultI2CAddr is the chip's primary address; SDO pulled low selects 0x76.
const DefaultI2CAddr = 0x77

// CalibrationSeaLevelPressure is the calibration key for the local sea level
// pressure in hPa, used to derive the altitude entity.
const CalibrationSeaLevelPressure = "sea_level_pressure"

const defaultSeaLevelPressure = 1013.25

// Chip registers.
const (
	regCalibT1     = 0x88
	regCalibH1     = 0xA1
	regCalibH2     = 0xE1
	regChipID      = 0xD0
	regReset       = 0xE0
	regCtrlHum     = 0xF2
	regStatus      = 0xF3
	regCtrlMeas    = 0xF4
	regConfig      = 0xF5
	regMeasurement = 0xF7

	chipIDBME280 = 0x60
	chipIDBMP280 = 0x58

	resetCommand = 0xB6
)

type attrConfig struct {
	I2CAddr int `json:"i2c_addr"`
}

func init() {
	for _, model := range []string{ModelBME280, ModelBMP280} {
		sensor.RegisterSensor(model, func(
			ctx context.Context,
			b board.Board,
			cfg sensor.Config,
			logger golog.Logger,
		) (sensor.Sensor, error) {
			return newSensor(b, cfg, logger)
		})
	}

	sensor.RegisterDriverInfo(sensor.DriverInfo{
		Model:              ModelBME280,
		DisplayName:        "BME280",
		Description:        "Temperature, humidity and barometric pressure sensor",
		Category:           sensor.CategoryEnvironmental,
		ConnectionTypes:    []sensor.ConnectionType{sensor.ConnectionI2C, sensor.ConnectionSPI},
		Entities:           entityInfo(true),
		MinPollIntervalSec: 0.1,
		SupportsBoards:     []string{"gpio", "custom"},
		DatasheetURL:       "https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bme280-ds002.pdf",
	})
	sensor.RegisterDriverInfo(sensor.DriverInfo{
		Model:              ModelBMP280,
		DisplayName:        "BMP280",
		Description:        "Temperature and barometric pressure sensor",
		Category:           sensor.CategoryEnvironmental,
		ConnectionTypes:    []sensor.ConnectionType{sensor.ConnectionI2C, sensor.ConnectionSPI},
		Entities:           entityInfo(false),
		MinPollIntervalSec: 0.1,
		SupportsBoards:     []string{"gpio", "custom"},
		DatasheetURL:       "https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bmp280-ds001.pdf",
	})
}

func entityInfo(humidity bool) []sensor.EntityInfo {
	out := []sensor.EntityInfo{
		{Name: "Temperature", Unit: "°C", Type: sensor.TypeTemperature, Precision: 2},
		{Name: "Pressure", Unit: "hPa", Type: sensor.TypePressure, Precision: 1},
		{Name: "Altitude", Unit: "m", Type: sensor.TypeCustom, Precision: 1},
	}
	if humidity {
		out = append(out, sensor.EntityInfo{
			Name: "Humidity", Unit: "%", Type: sensor.TypeHumidity, Precision: 1,
		})
	}
	return out
}

// calibration holds the chip's factory trimming coefficients.
type calibration struct {
	t1         uint16
	t2, t3     int16
	p1         uint16
	p2, p3, p4 int16
	p5, p6, p7 int16
	p8, p9     int16
	h1, h3     uint8
	h2         int16
	h4, h5     int
	h6         int8
}

// Sensor is one BME280 or BMP280 on an I2C bus.
type Sensor struct {
	name   string
	model  string
	addr   byte
	logger golog.Logger

	b   board.Board
	bus board.I2C

	mu          sync.Mutex
	initialized bool
	connected   bool
	hasHumidity bool
	coeffs      calibration
	entities    []sensor.Entity
	calib       utils.AttributeMap
}

func newSensor(b board.Board, cfg sensor.Config, logger golog.Logger) (*Sensor, error) {
	attrs, err := utils.TransformAttributeMap[*attrConfig](cfg.ConnectionParams)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing connection params for %q", cfg.Name)
	}
	addr := attrs.I2CAddr
	if addr == 0 {
		addr = DefaultI2CAddr
		logger.Debugw("no i2c_addr configured, using default", "sensor", cfg.Name, "addr", addr)
	}

	bus, err := b.I2C()
	if err != nil {
		return nil, errors.Wrapf(err, "board %q has no i2c bus", b.Name())
	}

	return &Sensor{
		name:   cfg.Name,
		model:  cfg.Model,
		addr:   byte(addr),
		logger: logger,
		b:      b,
		bus:    bus,
		calib:  cfg.Calibration.Copy(),
	}, nil
}

// Initialize probes the chip, loads its trimming coefficients and configures
// continuous measurement. The entity set depends on what silicon answered:
// a BMP280 gets no humidity entity.
func (s *Sensor) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, err := s.bus.OpenHandle(s.addr)
	if err != nil {
		return errors.Wrapf(err, "opening i2c handle for %q", s.name)
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			s.logger.Warnw("failed to close i2c handle", "sensor", s.name, "error", cerr)
		}
	}()

	chipID, err := handle.ReadByteData(ctx, regChipID)
	if err != nil {
		return errors.Wrapf(err, "probing chip id at 0x%02x", s.addr)
	}
	switch chipID {
	case chipIDBME280:
		s.hasHumidity = true
	case chipIDBMP280:
		s.hasHumidity = false
	default:
		return errors.Errorf("unexpected chip id 0x%02x at address 0x%02x, not a BME280/BMP280", chipID, s.addr)
	}
	if s.model == ModelBME280 && !s.hasHumidity {
		s.logger.Warnw("configured as bme280 but found a bmp280, humidity will be unavailable",
			"sensor", s.name)
	}

	if err := handle.WriteByteData(ctx, regReset, resetCommand); err != nil {
		return errors.Wrap(err, "resetting chip")
	}
	if !waitAfterReset(ctx) {
		return ctx.Err()
	}

	if err := s.loadCalibration(ctx, handle); err != nil {
		return errors.Wrap(err, "reading trimming coefficients")
	}

	// Humidity oversampling must be written before ctrl_meas takes effect.
	if s.hasHumidity {
		if err := handle.WriteByteData(ctx, regCtrlHum, 0b001); err != nil {
			return errors.Wrap(err, "setting humidity oversampling")
		}
	}
	// 1x temperature and pressure oversampling, normal mode.
	if err := handle.WriteByteData(ctx, regCtrlMeas, 0b001<<5|0b001<<2|0b11); err != nil {
		return errors.Wrap(err, "setting measurement mode")
	}
	// Shortest standby, no IIR filter.
	if err := handle.WriteByteData(ctx, regConfig, 0); err != nil {
		return errors.Wrap(err, "setting config register")
	}

	s.entities = s.buildEntities()
	s.initialized = true
	s.logger.Infow("bme280 initialized",
		"sensor", s.name, "addr", s.addr, "humidity", s.hasHumidity)
	return nil
}

func (s *Sensor) buildEntities() []sensor.Entity {
	entities := []sensor.Entity{
		{
			ID: s.name + "_temperature", Name: "Temperature", Unit: "°C",
			Type: sensor.TypeTemperature,
			Min:  sensor.Float64Ptr(-40), Max: sensor.Float64Ptr(85), Precision: 2,
		},
		{
			ID: s.name + "_pressure", Name: "Pressure", Unit: "hPa",
			Type: sensor.TypePressure,
			Min:  sensor.Float64Ptr(300), Max: sensor.Float64Ptr(1100), Precision: 1,
		},
		{
			ID: s.name + "_altitude", Name: "Altitude", Unit: "m",
			Type: sensor.TypeCustom,
			Min:  sensor.Float64Ptr(-500), Max: sensor.Float64Ptr(9000), Precision: 1,
		},
	}
	if s.hasHumidity {
		entities = append(entities, sensor.Entity{
			ID: s.name + "_humidity", Name: "Humidity", Unit: "%",
			Type: sensor.TypeHumidity,
			Min:  sensor.Float64Ptr(0), Max: sensor.Float64Ptr(100), Precision: 1,
		})
	}
	return entities
}

func (s *Sensor) loadCalibration(ctx context.Context, handle board.I2CHandle) error {
	// 0x88..0x9F plus 0xA1: temperature and pressure words, then H1.
	tp, err := handle.ReadBlockData(ctx, regCalibT1, 24)
	if err != nil {
		return err
	}
	word := func(i int) uint16 { return uint16(tp[i]) | uint16(tp[i+1])<<8 }

	s.coeffs.t1 = word(0)
	s.coeffs.t2 = int16(word(2))
	s.coeffs.t3 = int16(word(4))
	s.coeffs.p1 = word(6)
	s.coeffs.p2 = int16(word(8))
	s.coeffs.p3 = int16(word(10))
	s.coeffs.p4 = int16(word(12))
	s.coeffs.p5 = int16(word(14))
	s.coeffs.p6 = int16(word(16))
	s.coeffs.p7 = int16(word(18))
	s.coeffs.p8 = int16(word(20))
	s.coeffs.p9 = int16(word(22))

	if !s.hasHumidity {
		return nil
	}

	h1, err := handle.ReadByteData(ctx, regCalibH1)
	if err != nil {
		return err
	}
	s.coeffs.h1 = h1

	// 0xE1..0xE7: H2 through H6, with H4/H5 sharing a nibble at 0xE5.
	h, err := handle.ReadBlockData(ctx, regCalibH2, 7)
	if err != nil {
		return err
	}
	s.coeffs.h2 = int16(uint16(h[0]) | uint16(h[1])<<8)
	s.coeffs.h3 = h[2]
	s.coeffs.h4 = int(h[3])<<4 | int(h[4]&0x0f)
	s.coeffs.h5 = int(h[5])<<4 | int(h[4]>>4)
	s.coeffs.h6 = int8(h[6])
	return nil
}

// Connect verifies the chip still answers at its address.
func (s *Sensor) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.Errorf("bme280 %q not initialized", s.name)
	}

	handle, err := s.bus.OpenHandle(s.addr)
	if err != nil {
		return errors.Wrapf(err, "opening i2c handle for %q", s.name)
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			s.logger.Warnw("failed to close i2c handle", "sensor", s.name, "error", cerr)
		}
	}()

	if _, err := handle.ReadByteData(ctx, regChipID); err != nil {
		return errors.Wrapf(err, "bme280 %q did not answer", s.name)
	}
	s.connected = true
	return nil
}

// Disconnect drops the link state. The bus itself belongs to the board.
func (s *Sensor) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Connected reports the link state.
func (s *Sensor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Entities returns the entity set detected at initialization.
func (s *Sensor) Entities() []sensor.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sensor.Entity, len(s.entities))
	copy(out, s.entities)
	return out
}

// Calibrate replaces the calibration map.
func (s *Sensor) Calibrate(ctx context.Context, calibration utils.AttributeMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calib = calibration.Copy()
	return nil
}

// Readings burst-reads one measurement frame and compensates it. Altitude is
// derived from pressure against the configured sea level pressure.
func (s *Sensor) Readings(ctx context.Context) ([]sensor.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, errors.Errorf("bme280 %q not connected", s.name)
	}

	handle, err := s.bus.OpenHandle(s.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "opening i2c handle for %q", s.name)
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			s.logger.Warnw("failed to close i2c handle", "sensor", s.name, "error", cerr)
		}
	}()

	frame, err := handle.ReadBlockData(ctx, regMeasurement, 8)
	if err != nil {
		return nil, errors.Wrapf(err, "reading measurement frame from %q", s.name)
	}
	if len(frame) != 8 {
		return nil, errors.Errorf("expected 8 measurement bytes from %q, got %d", s.name, len(frame))
	}

	adcP := int32(uint32(frame[0])<<12 | uint32(frame[1])<<4 | uint32(frame[2])>>4)
	adcT := int32(uint32(frame[3])<<12 | uint32(frame[4])<<4 | uint32(frame[5])>>4)
	adcH := int32(uint32(frame[6])<<8 | uint32(frame[7]))

	temp, tFine := s.compensateTemperature(adcT)
	pressure := s.compensatePressure(adcP, tFine)

	seaLevel := s.calib.GetFloat64(CalibrationSeaLevelPressure, defaultSeaLevelPressure)
	altitude := 44330 * (1 - math.Pow(pressure/seaLevel, 1/5.255))

	now := time.Now()
	values := map[string]float64{
		s.name + "_temperature": temp,
		s.name + "_pressure":    pressure,
		s.name + "_altitude":    altitude,
	}
	if s.hasHumidity {
		values[s.name+"_humidity"] = s.compensateHumidity(adcH, tFine)
	}

	readings := make([]sensor.Reading, 0, len(s.entities))
	for _, e := range s.entities {
		v := sensor.ApplyCalibration(s.calib, e.ID, values[e.ID])
		p := math.Pow(10, float64(e.Precision))
		readings = append(readings, sensor.Reading{
			EntityID:  e.ID,
			Value:     math.Round(v*p) / p,
			Timestamp: now,
			Quality:   1.0,
		})
	}
	return sensor.ValidateReadings(s.entities, readings, s.logger), nil
}

// compensateTemperature returns degrees celsius and the t_fine term the
// pressure and humidity compensation reuse.
func (s *Sensor) compensateTemperature(adc int32) (float64, float64) {
	v1 := (float64(adc)/16384 - float64(s.coeffs.t1)/1024) * float64(s.coeffs.t2)
	v2 := math.Pow(float64(adc)/131072-float64(s.coeffs.t1)/8192, 2) * float64(s.coeffs.t3)
	tFine := v1 + v2
	return tFine / 5120, tFine
}

// compensatePressure returns hPa.
func (s *Sensor) compensatePressure(adc int32, tFine float64) float64 {
	v1 := tFine/2 - 64000
	v2 := v1 * v1 * float64(s.coeffs.p6) / 32768
	v2 += v1 * float64(s.coeffs.p5) * 2
	v2 = v2/4 + float64(s.coeffs.p4)*65536
	v1 = (float64(s.coeffs.p3)*v1*v1/524288 + float64(s.coeffs.p2)*v1) / 524288
	v1 = (1 + v1/32768) * float64(s.coeffs.p1)
	if v1 == 0 {
		return 0
	}
	p := 1048576 - float64(adc)
	p = (p - v2/4096) * 6250 / v1
	v1 = float64(s.coeffs.p9) * p * p / 2147483648
	v2 = p * float64(s.coeffs.p8) / 32768
	p += (v1 + v2 + float64(s.coeffs.p7)) / 16
	return p / 100
}

// compensateHumidity returns %RH, clamped to the chip's output range.
func (s *Sensor) compensateHumidity(adc int32, tFine float64) float64 {
	h := tFine - 76800
	h = (float64(adc) - (float64(s.coeffs.h4)*64 + float64(s.coeffs.h5)/16384*h)) *
		(float64(s.coeffs.h2) / 65536 * (1 + float64(s.coeffs.h6)/67108864*h*
			(1+float64(s.coeffs.h3)/67108864*h)))
	h *= 1 - float64(s.coeffs.h1)*h/524288
	return math.Max(0, math.Min(h, 100))
}

// SelfTest re-probes the chip and takes one reading when connected.
func (s *Sensor) SelfTest(ctx context.Context) (map[string]interface{}, error) {
	s.mu.Lock()
	initialized, connected := s.initialized, s.connected
	hasHumidity := s.hasHumidity
	s.mu.Unlock()

	results := map[string]interface{}{
		"sensor":      "BME280/BMP280",
		"model":       s.model,
		"i2c_addr":    int(s.addr),
		"initialized": initialized,
		"connected":   connected,
		"humidity":    hasHumidity,
	}

	handle, err := s.bus.OpenHandle(s.addr)
	if err != nil {
		results["probe"] = map[string]interface{}{"success": false, "error": err.Error()}
		return results, nil
	}
	chipID, err := handle.ReadByteData(ctx, regChipID)
	if cerr := handle.Close(); cerr != nil {
		s.logger.Warnw("failed to close i2c handle", "sensor", s.name, "error", cerr)
	}
	if err != nil {
		results["probe"] = map[string]interface{}{"success": false, "error": err.Error()}
		return results, nil
	}
	results["probe"] = map[string]interface{}{"success": true, "chip_id": int(chipID)}

	if connected {
		readings, err := s.Readings(ctx)
		if err != nil {
			results["test_reading"] = map[string]interface{}{"success": false, "error": err.Error()}
			return results, nil
		}
		sample := make([]map[string]interface{}, 0, len(readings))
		for _, r := range readings {
			sample = append(sample, map[string]interface{}{
				"entity": r.EntityID,
				"value":  r.Value,
			})
		}
		results["test_reading"] = map[string]interface{}{"success": true, "readings": sample}
	}
	return results, nil
}

// waitAfterReset sleeps out the chip's startup time, honoring cancellation.
func waitAfterReset(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(50 * time.Millisecond):
		return true
	}
}
