// Package analogreader implements a one-channel voltage sensor over a
// board's ADC, optionally smoothed over a sliding window for noisy signals.
package analogreader

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

// Model is the driver name this package registers.
const Model = "analog"

type attrConfig struct {
	Channel          int     `json:"channel"`
	MaxVoltage       float64 `json:"max_voltage"`
	AverageOverMs    int     `json:"average_over_ms"`
	SamplesPerSecond int     `json:"samples_per_sec"`
}

func init() {
	sensor.RegisterSensor(Model, func(
		ctx context.Context,
		b board.Board,
		cfg sensor.Config,
		logger golog.Logger,
	) (sensor.Sensor, error) {
		return newSensor(b, cfg, logger)
	})

	sensor.RegisterDriverInfo(sensor.DriverInfo{
		Model:              Model,
		DisplayName:        "Generic Analog Sensor",
		Description:        "Voltage reading from one ADC channel, optionally smoothed",
		Category:           sensor.CategoryAnalog,
		ConnectionTypes:    []sensor.ConnectionType{sensor.ConnectionAnalog},
		Entities:           []sensor.EntityInfo{{Name: "Voltage", Unit: "V", Type: sensor.TypeAnalog, Precision: 3}},
		MinPollIntervalSec: 0.05,
		SupportsBoards:     []string{"custom"},
	})
}

// Sensor reads one ADC channel.
type Sensor struct {
	name    string
	channel int
	maxV    float64
	b       board.Board
	logger  golog.Logger

	averageOverMs    int
	samplesPerSecond int

	mu          sync.Mutex
	initialized bool
	connected   bool
	smoother    *board.AnalogSmoother
	entities    []sensor.Entity
	calib       utils.AttributeMap
}

// newSensor requires the board to actually have an ADC; a board without one
// fails construction and the resolver serves a simulated stand-in instead.
func newSensor(b board.Board, cfg sensor.Config, logger golog.Logger) (*Sensor, error) {
	attrs, err := utils.TransformAttributeMap[*attrConfig](cfg.ConnectionParams)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing connection params for %q", cfg.Name)
	}
	if attrs.Channel < 0 {
		return nil, errors.Errorf("analog sensor %q needs a non-negative channel, got %d", cfg.Name, attrs.Channel)
	}
	if !board.CapabilityAvailable(b.Capabilities(), board.CapAnalogInput) {
		return nil, errors.Errorf("board %q has no analog input for sensor %q", b.Name(), cfg.Name)
	}

	maxV := attrs.MaxVoltage
	if maxV <= 0 {
		maxV = 3.3
	}

	return &Sensor{
		name:             cfg.Name,
		channel:          attrs.Channel,
		maxV:             maxV,
		b:                b,
		logger:           logger,
		averageOverMs:    attrs.AverageOverMs,
		samplesPerSecond: attrs.SamplesPerSecond,
		calib:            cfg.Calibration.Copy(),
	}, nil
}

// Initialize builds the voltage entity.
func (s *Sensor) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = []sensor.Entity{{
		ID: s.name + "_voltage", Name: "Voltage", Unit: "V",
		Type: sensor.TypeAnalog,
		Min:  sensor.Float64Ptr(0), Max: sensor.Float64Ptr(s.maxV), Precision: 3,
	}}
	s.initialized = true
	return nil
}

// Connect starts the background smoother when one is configured.
func (s *Sensor) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.Errorf("analog sensor %q not initialized", s.name)
	}
	if s.averageOverMs > 0 && s.samplesPerSecond > 0 {
		s.smoother = board.SmoothAnalogReader(
			s.b, s.channel, s.averageOverMs, s.samplesPerSecond, s.logger)
	}
	s.connected = true
	return nil
}

// Disconnect stops the smoother, if any. Safe to call repeatedly.
func (s *Sensor) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.smoother != nil {
		if err := s.smoother.Close(ctx); err != nil {
			return errors.Wrapf(err, "stopping smoother for %q", s.name)
		}
		s.smoother = nil
	}
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

// Readings returns the current channel voltage, smoothed when a window is
// configured.
func (s *Sensor) Readings(ctx context.Context) ([]sensor.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, errors.Errorf("analog sensor %q not connected", s.name)
	}

	var v float64
	var err error
	if s.smoother != nil {
		v, err = s.smoother.Read(ctx)
	} else {
		v, err = s.b.ReadAnalog(ctx, s.channel)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading channel %d for %q", s.channel, s.name)
	}

	id := s.entities[0].ID
	v = sensor.ApplyCalibration(s.calib, id, v)
	readings := []sensor.Reading{{
		EntityID:  id,
		Value:     math.Round(v*1000) / 1000,
		Timestamp: time.Now(),
		Quality:   1.0,
	}}
	return sensor.ValidateReadings(s.entities, readings, s.logger), nil
}

// SelfTest reports lifecycle state and a raw channel sample.
func (s *Sensor) SelfTest(ctx context.Context) (map[string]interface{}, error) {
	s.mu.Lock()
	initialized, connected := s.initialized, s.connected
	s.mu.Unlock()

	results := map[string]interface{}{
		"sensor":      "Analog channel reader",
		"channel":     s.channel,
		"initialized": initialized,
		"connected":   connected,
		"smoothed":    s.averageOverMs > 0 && s.samplesPerSecond > 0,
	}
	if !connected {
		return results, nil
	}

	v, err := s.b.ReadAnalog(ctx, s.channel)
	if err != nil {
		results["test_reading"] = map[string]interface{}{"success": false, "error": err.Error()}
		return results, nil
	}
	results["test_reading"] = map[string]interface{}{"success": true, "voltage": v}
	return results, nil
}
