package fake

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/sensord-io/sensord/sensor"
	"github.com/sensord-io/sensord/utils"
)

func simConfig(name, model string, params utils.AttributeMap) sensor.Config {
	if params == nil {
		params = utils.AttributeMap{}
	}
	params["seed"] = 1
	return sensor.Config{
		Name:             name,
		Model:            model,
		ConnectionType:   sensor.ConnectionGPIO,
		ConnectionParams: params,
		PollIntervalSec:  1,
	}
}

func TestSimSensorLifecycle(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := newSensor("dht22", simConfig("kitchen", "dht22", nil), logger)

	// connect before initialize is refused
	test.That(t, s.Connect(context.Background()), test.ShouldNotBeNil)

	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)
	entities := s.Entities()
	test.That(t, entities, test.ShouldHaveLength, 2)
	test.That(t, entities[0].ID, test.ShouldEqual, "kitchen_temperature")
	test.That(t, entities[0].Unit, test.ShouldEqual, "°C")
	test.That(t, *entities[0].Min, test.ShouldEqual, -40.0)
	test.That(t, *entities[0].Max, test.ShouldEqual, 80.0)
	test.That(t, entities[1].ID, test.ShouldEqual, "kitchen_humidity")

	_, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, s.Connected(), test.ShouldBeFalse)
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)
	test.That(t, s.Connected(), test.ShouldBeTrue)

	readings, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings, test.ShouldHaveLength, 2)
	for _, r := range readings {
		test.That(t, r.Timestamp.IsZero(), test.ShouldBeFalse)
		test.That(t, r.Quality, test.ShouldBeBetweenOrEqual, 0.7, 1.0)
	}
	test.That(t, readings[0].Value, test.ShouldBeBetweenOrEqual, -40.0, 80.0)
	test.That(t, readings[1].Value, test.ShouldBeBetweenOrEqual, 0.0, 100.0)

	test.That(t, s.Disconnect(context.Background()), test.ShouldBeNil)
	test.That(t, s.Connected(), test.ShouldBeFalse)
	_, err = s.Readings(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSimSensorCalibration(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := newSensor("kitchen", simConfig("kitchen", "dht22", nil), logger)
	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)

	// a zero multiplier collapses the calibrated value to exactly zero
	err := s.Calibrate(context.Background(), utils.AttributeMap{
		"kitchen_temperature_multiplier": 0.0,
	})
	test.That(t, err, test.ShouldBeNil)

	readings, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings, test.ShouldHaveLength, 2)
	byEntity := map[string]float64{}
	for _, r := range readings {
		byEntity[r.EntityID] = r.Value
	}
	test.That(t, byEntity["kitchen_temperature"], test.ShouldEqual, 0.0)

	// a calibration that pushes a value out of its entity bounds drops
	// that reading rather than clamping it
	err = s.Calibrate(context.Background(), utils.AttributeMap{
		"kitchen_temperature_multiplier": 1000.0,
	})
	test.That(t, err, test.ShouldBeNil)

	readings, err = s.Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings, test.ShouldHaveLength, 1)
	test.That(t, readings[0].EntityID, test.ShouldEqual, "kitchen_humidity")
}

func TestSimSensorGenericShaping(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := newSensor("probe", simConfig("probe", "warpcore", nil), logger)
	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)

	entities := s.Entities()
	test.That(t, entities, test.ShouldHaveLength, 1)
	test.That(t, entities[0].ID, test.ShouldEqual, "probe_value")
	test.That(t, *entities[0].Max, test.ShouldEqual, 100.0)

	st, err := s.SelfTest(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st["sensor"], test.ShouldEqual, "Simulated warpcore (simulated)")
	test.That(t, st["connected"], test.ShouldBeFalse)
}

func TestSimSensorFailRead(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := newSensor("flaky", simConfig("flaky", "dht22", utils.AttributeMap{"fail_read": true}), logger)
	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)

	_, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldNotBeNil)

	st, err := s.SelfTest(context.Background())
	test.That(t, err, test.ShouldBeNil)
	tr, ok := st["test_reading"].(map[string]interface{})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, tr["success"], test.ShouldBeFalse)
}

func TestResolverUsesSimModels(t *testing.T) {
	logger := golog.NewTestLogger(t)

	// a known model resolves to its specific simulator
	s, err := sensor.New(context.Background(), nil,
		simConfig("env", "bme280", nil), sensor.Options{ForceSim: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)
	test.That(t, s.Entities(), test.ShouldHaveLength, 3)

	// an unknown model falls through to the generic simulator
	s, err = sensor.New(context.Background(), nil,
		simConfig("mystery", "frobnicator", nil), sensor.Options{ForceSim: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)
	entities := s.Entities()
	test.That(t, entities, test.ShouldHaveLength, 1)
	test.That(t, entities[0].ID, test.ShouldEqual, "mystery_value")
}

func TestResolverGenericRescuesFailedSim(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)

	s, err := sensor.New(context.Background(), nil,
		simConfig("wounded", "dht22", utils.AttributeMap{"fail_new": true}),
		sensor.Options{ForceSim: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(logs.FilterMessageSnippet("falling back to generic").All()), test.ShouldEqual, 1)

	// the generic stand-in still shapes itself after the requested model
	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)
	test.That(t, s.Entities(), test.ShouldHaveLength, 2)
}

func TestDriverInfoCatalog(t *testing.T) {
	info, ok := sensor.LookupInfo("scd41")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, info.MinPollIntervalSec, test.ShouldEqual, 5.0)
	test.That(t, info.RequiresCalibration, test.ShouldBeTrue)
	test.That(t, info.Entities, test.ShouldHaveLength, 3)

	adcOnly := sensor.ModelsForBoard("custom")
	test.That(t, len(adcOnly), test.ShouldBeGreaterThanOrEqualTo, 3)
	for _, m := range sensor.ModelsForCategory(sensor.CategoryLight) {
		test.That(t, m.Model, test.ShouldEqual, "photocell")
	}
}
