package analogreader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/sensord-io/sensord/board"
	"github.com/sensord-io/sensord/sensor"
	"github.com/sensord-io/sensord/testutils/inject"
	"github.com/sensord-io/sensord/utils"
)

func adcBoard(voltage float64) *inject.Board {
	b := &inject.Board{}
	b.NameFunc = func() string { return "host" }
	b.CapabilitiesFunc = func() []board.Capability {
		return []board.Capability{{Name: board.CapAnalogInput, Available: true}}
	}
	var mu sync.Mutex
	b.ReadAnalogFunc = func(ctx context.Context, channel int) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		return voltage, nil
	}
	return b
}

func TestReadsChannelVoltage(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s, err := newSensor(adcBoard(1.25), sensor.Config{
		Name:             "tank",
		Model:            Model,
		ConnectionParams: utils.AttributeMap{"channel": 2},
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)
	defer func() {
		test.That(t, s.Disconnect(context.Background()), test.ShouldBeNil)
	}()

	readings, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings, test.ShouldHaveLength, 1)
	test.That(t, readings[0].EntityID, test.ShouldEqual, "tank_voltage")
	test.That(t, readings[0].Value, test.ShouldEqual, 1.25)
}

func TestCalibrationOutOfBoundsDropped(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s, err := newSensor(adcBoard(3.0), sensor.Config{
		Name:             "tank",
		Model:            Model,
		ConnectionParams: utils.AttributeMap{"channel": 0},
		Calibration:      utils.AttributeMap{"tank_voltage_multiplier": 2.0},
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)
	defer func() {
		test.That(t, s.Disconnect(context.Background()), test.ShouldBeNil)
	}()

	// 3.0 * 2 = 6.0 V exceeds the default 3.3 V entity bound.
	readings, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings, test.ShouldHaveLength, 0)
}

func TestSmoothedReads(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s, err := newSensor(adcBoard(2.5), sensor.Config{
		Name:  "tank",
		Model: Model,
		ConnectionParams: utils.AttributeMap{
			"channel":         1,
			"average_over_ms": 100,
			"samples_per_sec": 100,
		},
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)
	defer func() {
		test.That(t, s.Disconnect(context.Background()), test.ShouldBeNil)
	}()

	// A constant signal averages to itself once the sampler has run.
	deadline := time.Now().Add(10 * time.Second)
	for {
		readings, err := s.Readings(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, readings, test.ShouldHaveLength, 1)
		if readings[0].Value == 2.5 {
			break
		}
		if !time.Now().Before(deadline) {
			t.Fatalf("smoothed value never settled, last was %v", readings[0].Value)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBoardWithoutADCRejected(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := &inject.Board{}
	b.NameFunc = func() string { return "host" }
	b.CapabilitiesFunc = func() []board.Capability {
		return []board.Capability{{Name: board.CapAnalogInput, Available: false}}
	}

	_, err := newSensor(b, sensor.Config{
		Name:             "tank",
		Model:            Model,
		ConnectionParams: utils.AttributeMap{"channel": 0},
	}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no analog input")
}

func TestReadFailurePropagates(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := adcBoard(0)
	b.ReadAnalogFunc = func(ctx context.Context, channel int) (float64, error) {
		return 0, errors.New("adc hiccup")
	}

	s, err := newSensor(b, sensor.Config{
		Name:             "tank",
		Model:            Model,
		ConnectionParams: utils.AttributeMap{"channel": 0},
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)

	_, err = s.Readings(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "adc hiccup")
}
