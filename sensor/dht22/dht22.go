// Package dht22 implements the DHT22/AM2302 and DHT11 single-wire
// temperature and humidity sensors over a board GPIO pin.
//
// The chips answer at most once every two seconds; polling faster returns the
// cached batch. A transient handshake failure surfaces the last good values
// at quality zero rather than erroring, so a session keeps flowing through
// the occasional bad exchange, which is normal for this part.
package dht22

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/sensord-io/sensord/board"
	"github.com/sensord-io/sensord/sensor"
	"github.com/sensord-io/sensord/utils"
)

// Models served by this driver.
const (
	ModelDHT22 = "dht22"
	ModelDHT11 = "dht11"
)

// MinReadInterval is the chip's rate floor between bus transactions.
const MinReadInterval = 2 * time.Second

type attrConfig struct {
	Pin int `json:"pin"`
}

func init() {
	for _, model := range []string{ModelDHT22, ModelDHT11} {
		sensor.RegisterSensor(model, func(
			ctx context.Context,
			b board.Board,
			cfg sensor.Config,
			logger golog.Logger,
		) (sensor.Sensor, error) {
			return newSensor(ctx, b, cfg, logger)
		})
	}

	sensor.RegisterDriverInfo(sensor.DriverInfo{
		Model:              ModelDHT22,
		DisplayName:        "DHT22 / AM2302",
		Description:        "Temperature and humidity sensor with single-wire digital interface",
		Category:           sensor.CategoryEnvironmental,
		ConnectionTypes:    []sensor.ConnectionType{sensor.ConnectionGPIO},
		Entities:           driverEntityInfo(),
		MinPollIntervalSec: MinReadInterval.Seconds(),
		SupportsBoards:     []string{"gpio", "custom"},
		DatasheetURL:       "https://cdn-shop.adafruit.com/datasheets/Digital+humidity+and+temperature+sensor+AM2302.pdf",
	})
	sensor.RegisterDriverInfo(sensor.DriverInfo{
		Model:              ModelDHT11,
		DisplayName:        "DHT11",
		Description:        "Low cost temperature and humidity sensor",
		Category:           sensor.CategoryEnvironmental,
		ConnectionTypes:    []sensor.ConnectionType{sensor.ConnectionGPIO},
		Entities:           driverEntityInfo(),
		MinPollIntervalSec: MinReadInterval.Seconds(),
		SupportsBoards:     []string{"gpio", "custom"},
	})
}

func driverEntityInfo() []sensor.EntityInfo {
	return []sensor.EntityInfo{
		{Name: "Temperature", Unit: "°C", Type: sensor.TypeTemperature, Precision: 1},
		{Name: "Humidity", Unit: "%", Type: sensor.TypeHumidity, Precision: 1},
	}
}

// Sensor is one DHT22 or DHT11 on a GPIO pin.
type Sensor struct {
	name   string
	model  string
	pin    int
	b      board.Board
	logger golog.Logger
	clock  clock.Clock

	// readBits performs one bus transaction and returns raw temperature and
	// humidity. It is a field so tests can stand in for the waveform.
	readBits func(ctx context.Context) (temperature, humidity float64, err error)

	mu          sync.Mutex
	initialized bool
	connected   bool
	entities    []sensor.Entity
	calib       utils.AttributeMap
	lastBatch   []sensor.Reading
	lastRead    time.Time
}

// newSensor probes the part once; a host where the handshake cannot complete
// fails construction, which sends the resolver to the simulated counterpart.
func newSensor(ctx context.Context, b board.Board, cfg sensor.Config, logger golog.Logger) (*Sensor, error) {
	attrs, err := utils.TransformAttributeMap[*attrConfig](cfg.ConnectionParams)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing connection params for %q", cfg.Name)
	}
	if attrs.Pin <= 0 {
		return nil, errors.Errorf("dht sensor %q needs a positive pin, got %d", cfg.Name, attrs.Pin)
	}
	if !board.CapabilityAvailable(b.Capabilities(), board.CapDigitalIO) {
		return nil, errors.Errorf("board %q has no digital io for dht sensor %q", b.Name(), cfg.Name)
	}

	s := &Sensor{
		name:   cfg.Name,
		model:  cfg.Model,
		pin:    attrs.Pin,
		b:      b,
		logger: logger,
		clock:  clock.New(),
		calib:  cfg.Calibration.Copy(),
	}
	s.readBits = s.handshake

	if _, _, err := s.readBits(ctx); err != nil {
		return nil, errors.Wrapf(err, "no %s answered on pin %d", cfg.Model, attrs.Pin)
	}
	return s, nil
}

// Initialize builds the entity set. Bounds differ per model; the DHT11 is a
// narrower, coarser part.
func (s *Sensor) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tempMin, tempMax := -40.0, 80.0
	humMin, humMax := 0.0, 100.0
	if s.model == ModelDHT11 {
		tempMin, tempMax = 0, 50
		humMin, humMax = 20, 90
	}

	s.entities = []sensor.Entity{
		{
			ID: s.name + "_temperature", Name: "Temperature", Unit: "°C",
			Type: sensor.TypeTemperature,
			Min:  sensor.Float64Ptr(tempMin), Max: sensor.Float64Ptr(tempMax), Precision: 1,
		},
		{
			ID: s.name + "_humidity", Name: "Humidity", Unit: "%",
			Type: sensor.TypeHumidity,
			Min:  sensor.Float64Ptr(humMin), Max: sensor.Float64Ptr(humMax), Precision: 1,
		},
	}
	s.initialized = true
	return nil
}

// Connect marks the link up; the probe already ran at construction.
func (s *Sensor) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.Errorf("dht sensor %q not initialized", s.name)
	}
	s.connected = true
	return nil
}

// Disconnect drops the link state. Safe to call repeatedly.
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

// Entities returns the entity set built at initialization.
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

// Readings runs one transaction, rate limited to the chip's floor. Inside the
// floor the cached batch is returned as is. A failed transaction degrades the
// cached values to quality zero instead of erroring; only a failure with no
// cache at all propagates.
func (s *Sensor) Readings(ctx context.Context) ([]sensor.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, errors.Errorf("dht sensor %q not connected", s.name)
	}

	now := s.clock.Now()
	if s.lastBatch != nil && now.Sub(s.lastRead) < MinReadInterval {
		return copyBatch(s.lastBatch), nil
	}

	temp, hum, err := s.readBits(ctx)
	if err != nil {
		if s.lastBatch == nil {
			return nil, errors.Wrapf(err, "reading %s %q", s.model, s.name)
		}
		s.logger.Debugw("transient dht read failure, serving cached values at quality zero",
			"sensor", s.name, "error", err)
		degraded := copyBatch(s.lastBatch)
		for i := range degraded {
			degraded[i].Quality = 0
			degraded[i].Timestamp = now
		}
		return degraded, nil
	}

	readings := make([]sensor.Reading, 0, 2)
	for _, ev := range []struct {
		id string
		v  float64
	}{
		{s.name + "_temperature", temp},
		{s.name + "_humidity", hum},
	} {
		readings = append(readings, sensor.Reading{
			EntityID:  ev.id,
			Value:     sensor.ApplyCalibration(s.calib, ev.id, ev.v),
			Timestamp: now,
			Quality:   1.0,
		})
	}
	readings = sensor.ValidateReadings(s.entities, readings, s.logger)

	s.lastBatch = copyBatch(readings)
	s.lastRead = now
	return readings, nil
}

// SelfTest reports lifecycle state and attempts one transaction.
func (s *Sensor) SelfTest(ctx context.Context) (map[string]interface{}, error) {
	s.mu.Lock()
	initialized, connected := s.initialized, s.connected
	s.mu.Unlock()

	results := map[string]interface{}{
		"sensor":      "DHT (single-wire)",
		"model":       s.model,
		"pin":         s.pin,
		"initialized": initialized,
		"connected":   connected,
	}
	if !connected {
		return results, nil
	}

	readings, err := s.Readings(ctx)
	if err != nil {
		results["test_reading"] = map[string]interface{}{"success": false, "error": err.Error()}
		return results, nil
	}
	sample := make([]map[string]interface{}, 0, len(readings))
	for _, r := range readings {
		sample = append(sample, map[string]interface{}{
			"entity":  r.EntityID,
			"value":   r.Value,
			"quality": r.Quality,
		})
	}
	results["test_reading"] = map[string]interface{}{"success": true, "readings": sample}
	return results, nil
}

func copyBatch(batch []sensor.Reading) []sensor.Reading {
	out := make([]sensor.Reading, len(batch))
	copy(out, batch)
	return out
}
