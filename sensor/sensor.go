// Package sensor defines an abstract sensing device that exposes one or more
// measurable entities and produces timestamped readings for them.
package sensor

import (
	"context"
	"time"

	"github.com/edaniels/golog"

	"github.com/sensord-io/sensord/utils"
)

// Type classifies the semantic kind of quantity an entity measures.
type Type string

// The semantic types understood by the built in drivers. Custom covers
// anything else; it carries no unit or range conventions.
const (
	TypeTemperature = Type("temperature")
	TypeHumidity    = Type("humidity")
	TypePressure    = Type("pressure")
	TypeLight       = Type("light")
	TypeAnalog      = Type("analog")
	TypeDigital     = Type("digital")
	TypeMotion      = Type("motion")
	TypeCO2         = Type("co2")
	TypeCustom      = Type("custom")
)

// ConnectionType identifies the physical interface a sensor uses.
type ConnectionType string

// Supported connection interfaces.
const (
	ConnectionI2C     = ConnectionType("i2c")
	ConnectionSPI     = ConnectionType("spi")
	ConnectionGPIO    = ConnectionType("gpio")
	ConnectionAnalog  = ConnectionType("analog")
	ConnectionUART    = ConnectionType("uart")
	ConnectionOneWire = ConnectionType("one_wire")
)

// An Entity is one measurable quantity of a sensor. Entities are created once
// when a sensor initializes and define the validity bounds for its readings.
type Entity struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Unit      string   `json:"unit"`
	Type      Type     `json:"type"`
	Min       *float64 `json:"min_value,omitempty"`
	Max       *float64 `json:"max_value,omitempty"`
	Precision int      `json:"precision"`
}

// InBounds reports whether v lies within the entity's declared range.
// Entities without bounds accept every value.
func (e Entity) InBounds(v float64) bool {
	if e.Min != nil && v < *e.Min {
		return false
	}
	if e.Max != nil && v > *e.Max {
		return false
	}
	return true
}

// A Reading is one timestamped value for an entity. Quality below 1 signals
// degraded or noisy data, not a hard failure; consumers must not treat low
// quality as absence of data.
type Reading struct {
	EntityID  string    `json:"entity_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Quality   float64   `json:"quality"`
}

// NewReading returns a full quality reading stamped now.
func NewReading(entityID string, value float64) Reading {
	return Reading{EntityID: entityID, Value: value, Timestamp: time.Now(), Quality: 1.0}
}

// A Sensor is a device, real or simulated, that produces readings for a fixed
// set of entities. Implementations must be safe for use from multiple
// goroutines; the device manager serializes structural operations but reads
// may run concurrently with calibration.
type Sensor interface {
	// Initialize prepares the driver and defines its entities.
	Initialize(ctx context.Context) error

	// Connect establishes communication with the underlying device.
	Connect(ctx context.Context) error

	// Disconnect releases the device. It is safe to call more than once.
	Disconnect(ctx context.Context) error

	// Readings samples every entity once. Calibration is applied and
	// out of bounds values are dropped from the returned batch.
	Readings(ctx context.Context) ([]Reading, error)

	// Entities returns the entity set defined at initialization.
	Entities() []Entity

	// Calibrate atomically replaces the calibration map.
	Calibrate(ctx context.Context, calibration utils.AttributeMap) error

	// SelfTest exercises the device and reports what it found.
	SelfTest(ctx context.Context) (map[string]interface{}, error)

	// Connected reports whether Connect succeeded and Disconnect has not run.
	Connected() bool
}

// ApplyCalibration adjusts a raw value using the per entity calibration keys
// "<entityID>_offset" and "<entityID>_multiplier". The offset is applied
// before the multiplier; missing keys leave the value unchanged.
func ApplyCalibration(calibration utils.AttributeMap, entityID string, value float64) float64 {
	if len(calibration) == 0 {
		return value
	}
	value += calibration.GetFloat64(entityID+"_offset", 0)
	value *= calibration.GetFloat64(entityID+"_multiplier", 1)
	return value
}

// ValidateReadings drops readings whose entity is unknown or whose value lies
// outside the entity's bounds. Bad data is never corrected or clamped; it is
// removed so it cannot reach subscribers silently fixed.
func ValidateReadings(entities []Entity, readings []Reading, logger golog.Logger) []Reading {
	byID := make(map[string]Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	out := readings[:0]
	for _, r := range readings {
		e, ok := byID[r.EntityID]
		if !ok {
			logger.Warnw("dropping reading for unknown entity", "entity", r.EntityID)
			continue
		}
		if !e.InBounds(r.Value) {
			logger.Warnw("dropping out of bounds reading",
				"entity", r.EntityID, "value", r.Value)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Float64Ptr is a helper for building entity bounds.
func Float64Ptr(v float64) *float64 {
	return &v
}
