// Package fake implements simulated sensor drivers.
//
// Every hardware model the host knows about has a simulated counterpart here,
// plus a generic catch-all that shapes itself after whatever model name it is
// asked to stand in for. Values follow slow sine waves with gaussian noise so
// charts look like a real deployment rather than white noise.
package fake

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/sensord-io/sensord/board"
	"github.com/sensord-io/sensord/sensor"
	"github.com/sensord-io/sensord/utils"
)

// Connection parameter keys understood by every simulated driver.
const (
	// AttrSeed fixes the noise source for deterministic tests.
	AttrSeed = "seed"
	// AttrFailNew makes construction fail, exercising resolver fallback.
	AttrFailNew = "fail_new"
	// AttrFailRead makes every read fail, exercising session error counters.
	AttrFailRead = "fail_read"
)

// entitySpec describes one entity of a simulated model: hard bounds the
// entity advertises and the narrower band the waveform actually moves in.
type entitySpec struct {
	suffix    string
	name      string
	unit      string
	typ       sensor.Type
	min, max  float64
	lo, hi    float64
	precision int
}

type profile struct {
	displayName string
	entities    []entitySpec
}

var profiles = map[string]profile{
	"dht22": {"DHT22 / AM2302", []entitySpec{
		{"temperature", "Temperature", "°C", sensor.TypeTemperature, -40, 80, 20, 25, 1},
		{"humidity", "Humidity", "%", sensor.TypeHumidity, 0, 100, 40, 60, 1},
	}},
	"dht11": {"DHT11", []entitySpec{
		{"temperature", "Temperature", "°C", sensor.TypeTemperature, 0, 50, 20, 25, 0},
		{"humidity", "Humidity", "%", sensor.TypeHumidity, 20, 90, 40, 60, 0},
	}},
	"bmp280": {"BMP280", []entitySpec{
		{"temperature", "Temperature", "°C", sensor.TypeTemperature, -40, 85, 18, 26, 2},
		{"pressure", "Pressure", "hPa", sensor.TypePressure, 300, 1100, 980, 1030, 1},
	}},
	"bme280": {"BME280", []entitySpec{
		{"temperature", "Temperature", "°C", sensor.TypeTemperature, -40, 85, 18, 26, 2},
		{"pressure", "Pressure", "hPa", sensor.TypePressure, 300, 1100, 980, 1030, 1},
		{"humidity", "Humidity", "%", sensor.TypeHumidity, 0, 100, 35, 65, 1},
	}},
	"ads1115": {"ADS1115 ADC", []entitySpec{
		{"channel_0", "Channel 0", "V", sensor.TypeAnalog, 0, 5, 0, 5, 3},
		{"channel_1", "Channel 1", "V", sensor.TypeAnalog, 0, 5, 0, 5, 3},
		{"channel_2", "Channel 2", "V", sensor.TypeAnalog, 0, 5, 0, 5, 3},
		{"channel_3", "Channel 3", "V", sensor.TypeAnalog, 0, 5, 0, 5, 3},
	}},
	"analog": {"Generic Analog Sensor", []entitySpec{
		{"voltage", "Voltage", "V", sensor.TypeAnalog, 0, 3.3, 0, 3.3, 3},
	}},
	"ds18b20": {"DS18B20", []entitySpec{
		{"temperature", "Temperature", "°C", sensor.TypeTemperature, -55, 125, 15, 30, 2},
	}},
	"scd41": {"SCD-41", []entitySpec{
		{"co2", "CO2", "ppm", sensor.TypeCO2, 400, 5000, 400, 1200, 0},
		{"temperature", "Temperature", "°C", sensor.TypeTemperature, -10, 60, 19, 25, 1},
		{"humidity", "Humidity", "%", sensor.TypeHumidity, 0, 100, 40, 60, 1},
	}},
	"photocell": {"Photo Cell", []entitySpec{
		{"light_level", "Light Level", "V", sensor.TypeLight, 0, 5, 0.5, 4.5, 3},
	}},
	"etape": {"5\" eTape Liquid Level Sensor", []entitySpec{
		{"liquid_level", "Liquid Level", "V", sensor.TypeAnalog, 0, 5, 0.5, 4, 3},
	}},
	"flexsensor": {"Short Flex Sensor", []entitySpec{
		{"bend_angle", "Bend Angle", "V", sensor.TypeAnalog, 0, 5, 0.8, 3.5, 3},
	}},
}

func init() {
	for model := range profiles {
		model := model
		sensor.RegisterSimSensor(model, func(
			ctx context.Context,
			_ board.Board,
			cfg sensor.Config,
			logger golog.Logger,
		) (sensor.Sensor, error) {
			if cfg.ConnectionParams.GetBool(AttrFailNew, false) {
				return nil, errors.New("whoops")
			}
			return newSensor(model, cfg, logger), nil
		})
	}
	// The generic fallback is the resolver's last resort and must always
	// construct, so it does not honor fail_new.
	sensor.RegisterGenericSimSensor(func(
		ctx context.Context,
		_ board.Board,
		cfg sensor.Config,
		logger golog.Logger,
	) (sensor.Sensor, error) {
		hint := cfg.ConnectionParams.GetString(sensor.ModelHintParam)
		return newSensor(hint, cfg, logger), nil
	})

	// Catalog entries for models that exist only as simulations. Models with
	// a real driver register theirs next to the hardware code.
	sensor.RegisterDriverInfo(sensor.DriverInfo{
		Model:              "ads1115",
		DisplayName:        "ADS1115 ADC",
		Description:        "16-bit ADC with 4 channels and programmable gain amplifier",
		Category:           sensor.CategoryAnalog,
		ConnectionTypes:    []sensor.ConnectionType{sensor.ConnectionI2C},
		Entities:           entityInfo("ads1115"),
		MinPollIntervalSec: 0.1,
		SupportsBoards:     []string{"gpio", "custom"},
		DatasheetURL:       "https://www.ti.com/lit/ds/symlink/ads1115.pdf",
	})
	sensor.RegisterDriverInfo(sensor.DriverInfo{
		Model:              "ds18b20",
		DisplayName:        "DS18B20",
		Description:        "Digital temperature sensor with 1-Wire interface",
		Category:           sensor.CategoryEnvironmental,
		ConnectionTypes:    []sensor.ConnectionType{sensor.ConnectionOneWire},
		Entities:           entityInfo("ds18b20"),
		MinPollIntervalSec: 1.0,
		SupportsBoards:     []string{"gpio", "custom"},
		DatasheetURL:       "https://www.analog.com/media/en/technical-documentation/data-sheets/DS18B20.pdf",
	})
	sensor.RegisterDriverInfo(sensor.DriverInfo{
		Model:               "scd41",
		DisplayName:         "SCD-41",
		Description:         "CO2, temperature and humidity sensor with photoacoustic sensing",
		Category:            sensor.CategoryEnvironmental,
		ConnectionTypes:     []sensor.ConnectionType{sensor.ConnectionI2C},
		Entities:            entityInfo("scd41"),
		MinPollIntervalSec:  5.0,
		RequiresCalibration: true,
		SupportsBoards:      []string{"gpio", "custom"},
		DatasheetURL:        "https://sensirion.com/media/documents/48C4B7FB/6426E14D/CD_DS_SCD40_SCD41_Datasheet_D1.pdf",
	})
	sensor.RegisterDriverInfo(sensor.DriverInfo{
		Model:              "photocell",
		DisplayName:        "Photo Cell",
		Description:        "Light dependent resistor (LDR) for ambient light sensing",
		Category:           sensor.CategoryLight,
		ConnectionTypes:    []sensor.ConnectionType{sensor.ConnectionAnalog},
		Entities:           entityInfo("photocell"),
		MinPollIntervalSec: 0.1,
		SupportsBoards:     []string{"custom"},
	})
	sensor.RegisterDriverInfo(sensor.DriverInfo{
		Model:               "etape",
		DisplayName:         "5\" eTape Liquid Level Sensor",
		Description:         "Resistive liquid level sensor with continuous output",
		Category:            sensor.CategoryAnalog,
		ConnectionTypes:     []sensor.ConnectionType{sensor.ConnectionAnalog},
		Entities:            entityInfo("etape"),
		MinPollIntervalSec:  0.1,
		RequiresCalibration: true,
		SupportsBoards:      []string{"custom"},
	})
	sensor.RegisterDriverInfo(sensor.DriverInfo{
		Model:              "flexsensor",
		DisplayName:        "Short Flex Sensor",
		Description:        "Resistive flex sensor for bend detection and angle measurement",
		Category:           sensor.CategoryAnalog,
		ConnectionTypes:    []sensor.ConnectionType{sensor.ConnectionAnalog},
		Entities:           entityInfo("flexsensor"),
		MinPollIntervalSec: 0.1,
		SupportsBoards:     []string{"custom"},
	})
}

func entityInfo(model string) []sensor.EntityInfo {
	specs := profiles[model].entities
	out := make([]sensor.EntityInfo, 0, len(specs))
	for _, es := range specs {
		out = append(out, sensor.EntityInfo{
			Name:      es.name,
			Unit:      es.unit,
			Type:      es.typ,
			Precision: es.precision,
		})
	}
	return out
}

// Sensor is a simulated driver for one model. It keeps the same lifecycle
// discipline as a hardware driver so callers cannot tell them apart.
type Sensor struct {
	name    string
	model   string
	display string
	specs   []entitySpec
	params  utils.AttributeMap
	logger  golog.Logger

	failRead   bool
	timeOffset float64
	rnd        *rand.Rand

	mu          sync.Mutex
	initialized bool
	connected   bool
	entities    []sensor.Entity
	calibration utils.AttributeMap
}

func newSensor(model string, cfg sensor.Config, logger golog.Logger) *Sensor {
	prof, known := profiles[model]
	if !known {
		prof = profile{
			displayName: "Simulated " + model,
			entities: []entitySpec{
				{"value", "Value", "", sensor.TypeCustom, 0, 100, 0, 100, 2},
			},
		}
	}

	seed := int64(cfg.ConnectionParams.GetInt(AttrSeed, 0))
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	//nolint:gosec
	rnd := rand.New(rand.NewSource(seed))

	return &Sensor{
		name:        cfg.Name,
		model:       model,
		display:     prof.displayName,
		specs:       prof.entities,
		params:      cfg.ConnectionParams,
		logger:      logger,
		failRead:    cfg.ConnectionParams.GetBool(AttrFailRead, false),
		timeOffset:  rnd.Float64() * 100,
		rnd:         rnd,
		calibration: cfg.Calibration.Copy(),
	}
}

// Initialize builds the entity set for the model.
func (s *Sensor) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = make([]sensor.Entity, 0, len(s.specs))
	for _, es := range s.specs {
		s.entities = append(s.entities, sensor.Entity{
			ID:        s.name + "_" + es.suffix,
			Name:      es.name,
			Unit:      es.unit,
			Type:      es.typ,
			Min:       sensor.Float64Ptr(es.min),
			Max:       sensor.Float64Ptr(es.max),
			Precision: es.precision,
		})
	}
	s.initialized = true
	s.logger.Infow("simulated sensor initialized",
		"sensor", s.name, "model", s.model, "entities", len(s.entities))
	return nil
}

// Connect marks the simulated link up.
func (s *Sensor) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.Errorf("simulated sensor %q not initialized", s.name)
	}
	s.connected = true
	return nil
}

// Disconnect marks the simulated link down. Safe to call repeatedly.
func (s *Sensor) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Connected reports whether Connect has succeeded and Disconnect has not run.
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
	s.calibration = calibration.Copy()
	s.logger.Infow("calibration applied", "sensor", s.name, "calibration", calibration)
	return nil
}

// Readings generates one value per entity, calibrated and rounded to the
// entity's precision. Around 5% of batches carry a degraded quality in
// [0.7, 0.9) to mimic marginal hardware.
func (s *Sensor) Readings(ctx context.Context) ([]sensor.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, errors.Errorf("simulated sensor %q not connected", s.name)
	}
	if s.failRead {
		return nil, errors.Errorf("simulated read failure on %q", s.name)
	}

	t := float64(time.Now().UnixNano()) / float64(time.Second)

	quality := 1.0
	if s.rnd.Float64() < 0.05 {
		quality = 0.7 + s.rnd.Float64()*0.2
	}

	readings := make([]sensor.Reading, 0, len(s.entities))
	for i, e := range s.entities {
		v := s.waveform(s.specs[i], t)
		v = sensor.ApplyCalibration(s.calibration, e.ID, v)
		v = roundTo(v, e.Precision)
		readings = append(readings, sensor.Reading{
			EntityID:  e.ID,
			Value:     v,
			Timestamp: time.Now(),
			Quality:   quality,
		})
	}
	return sensor.ValidateReadings(s.entities, readings, s.logger), nil
}

// waveform produces the next raw value for one entity. Each semantic type
// moves differently: temperature rides a slow daily cycle, humidity runs
// inverse to it, pressure drifts, analog signals oscillate faster. Raw values
// are clamped to the entity's hard bounds before calibration.
func (s *Sensor) waveform(es entitySpec, t float64) float64 {
	mid := (es.lo + es.hi) / 2
	amp := (es.hi - es.lo) / 4

	var v float64
	switch es.typ {
	case sensor.TypeTemperature:
		daily := math.Sin(t*0.1+s.timeOffset) * amp * 0.5
		ripple := math.Sin(t*2.0+s.timeOffset) * amp * 0.1
		v = mid + daily + ripple + s.rnd.NormFloat64()*0.5
	case sensor.TypeHumidity:
		daily := -math.Sin(t*0.1+s.timeOffset) * amp * 0.3
		swing := math.Sin(t*1.5+s.timeOffset) * amp * 0.2
		v = mid + daily + swing + s.rnd.NormFloat64()*0.5
	case sensor.TypePressure:
		drift := math.Sin(t*0.05+s.timeOffset) * amp * 0.2
		ripple := math.Sin(t*0.8+s.timeOffset) * amp * 0.05
		v = mid + drift + ripple + s.rnd.NormFloat64()*0.25
	case sensor.TypeCO2:
		drift := math.Sin(t*0.05+s.timeOffset) * amp * 0.3
		v = mid + drift + s.rnd.NormFloat64()*amp*0.05
	case sensor.TypeAnalog, sensor.TypeLight:
		wave := math.Sin(t*1.0+s.timeOffset) * amp * 0.4
		v = mid + wave + s.rnd.NormFloat64()*0.1
	default:
		wave := math.Sin(t*0.5+s.timeOffset) * amp * 0.3
		v = mid + wave + s.rnd.NormFloat64()*0.5
	}

	return math.Max(es.min, math.Min(es.max, v))
}

// SelfTest reports lifecycle state and, when connected, a live reading.
func (s *Sensor) SelfTest(ctx context.Context) (map[string]interface{}, error) {
	s.mu.Lock()
	initialized, connected := s.initialized, s.connected
	entityCount := len(s.entities)
	s.mu.Unlock()

	results := map[string]interface{}{
		"sensor":         s.display + " (simulated)",
		"model":          s.model,
		"initialized":    initialized,
		"connected":      connected,
		"entities_count": entityCount,
	}
	if s.params.Has("pin") {
		results["pin"] = s.params.GetInt("pin", 0)
	}

	if connected {
		readings, err := s.Readings(ctx)
		if err != nil {
			results["test_reading"] = map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			}
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
		results["test_reading"] = map[string]interface{}{
			"success":  true,
			"readings": sample,
		}
	}
	return results, nil
}

func roundTo(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}
