package device

import (
	"context"
	"sync"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/sensord-io/sensord/board"
	_ "github.com/sensord-io/sensord/board/fake"
	"github.com/sensord-io/sensord/sensor"
	_ "github.com/sensord-io/sensord/sensor/fake"
	"github.com/sensord-io/sensord/testutils/inject"
	"github.com/sensord-io/sensord/utils"
)

// shutdownSeq records the order of teardown steps across the injected test
// drivers and the stub session stopper.
var (
	seqMu       sync.Mutex
	shutdownSeq []string
)

func recordStep(step string) {
	seqMu.Lock()
	defer seqMu.Unlock()
	shutdownSeq = append(shutdownSeq, step)
}

func resetSeq() {
	seqMu.Lock()
	defer seqMu.Unlock()
	shutdownSeq = nil
}

func init() {
	sensor.RegisterSimSensor("device-test-failinit", func(
		ctx context.Context, _ board.Board, cfg sensor.Config, logger golog.Logger,
	) (sensor.Sensor, error) {
		s := &inject.Sensor{}
		s.InitializeFunc = func(ctx context.Context) error { return errors.New("init exploded") }
		return s, nil
	})
	sensor.RegisterSimSensor("device-test-failconnect", func(
		ctx context.Context, _ board.Board, cfg sensor.Config, logger golog.Logger,
	) (sensor.Sensor, error) {
		s := &inject.Sensor{}
		s.InitializeFunc = func(ctx context.Context) error { return nil }
		s.ConnectFunc = func(ctx context.Context) error { return errors.New("no link") }
		s.DisconnectFunc = func(ctx context.Context) error {
			recordStep("rollback_disconnect")
			return nil
		}
		return s, nil
	})
	sensor.RegisterSimSensor("device-test-recorder", func(
		ctx context.Context, _ board.Board, cfg sensor.Config, logger golog.Logger,
	) (sensor.Sensor, error) {
		s := &inject.Sensor{}
		s.InitializeFunc = func(ctx context.Context) error { return nil }
		s.ConnectFunc = func(ctx context.Context) error { return nil }
		s.DisconnectFunc = func(ctx context.Context) error {
			recordStep("disconnect_" + cfg.Name)
			return nil
		}
		s.EntitiesFunc = func() []sensor.Entity { return nil }
		return s, nil
	})
}

type stubStopper struct{ called bool }

func (s *stubStopper) StopAll(ctx context.Context) {
	s.called = true
	recordStep("stop_sessions")
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	logger := golog.NewTestLogger(t)
	m := NewManager(Options{Simulate: true}, logger)
	err := m.Initialize(context.Background(), board.Config{Name: "bench", Model: "custom"})
	test.That(t, err, test.ShouldBeNil)
	return m
}

func sensorConfig(name, model string) sensor.Config {
	return sensor.Config{
		Name:             name,
		Model:            model,
		ConnectionType:   sensor.ConnectionI2C,
		ConnectionParams: utils.AttributeMap{"seed": 1},
		PollIntervalSec:  1,
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := testManager(t)
	test.That(t, m.Board(), test.ShouldNotBeNil)

	// a second board is refused
	err := m.Initialize(context.Background(), board.Config{Name: "again", Model: "gpio"})
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, m.AddSensor(context.Background(), sensorConfig("air", "scd41")), test.ShouldBeNil)
	test.That(t, m.ListSensors(), test.ShouldResemble, []string{"air"})

	err = m.AddSensor(context.Background(), sensorConfig("air", "scd41"))
	test.That(t, utils.IsConflictError(err), test.ShouldBeTrue)

	disabled := sensorConfig("spare", "scd41")
	off := false
	disabled.Enabled = &off
	test.That(t, m.AddSensor(context.Background(), disabled), test.ShouldNotBeNil)

	readings, err := m.ReadSensor(context.Background(), "air")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings, test.ShouldHaveLength, 3)

	_, err = m.ReadSensor(context.Background(), "ghost")
	test.That(t, utils.IsNotFoundError(err), test.ShouldBeTrue)

	info, err := m.SensorInfo("air")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Connected, test.ShouldBeTrue)
	test.That(t, info.Entities, test.ShouldHaveLength, 3)
	test.That(t, info.Driver, test.ShouldNotBeNil)
	test.That(t, info.Driver.MinPollIntervalSec, test.ShouldEqual, 5.0)

	test.That(t, m.RemoveSensor(context.Background(), "air"), test.ShouldBeNil)
	test.That(t, m.ListSensors(), test.ShouldBeEmpty)
	err = m.RemoveSensor(context.Background(), "air")
	test.That(t, utils.IsNotFoundError(err), test.ShouldBeTrue)
}

func TestAddSensorRollback(t *testing.T) {
	resetSeq()
	m := testManager(t)

	err := m.AddSensor(context.Background(), sensorConfig("broken", "device-test-failinit"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "init exploded")
	test.That(t, m.ListSensors(), test.ShouldBeEmpty)

	err = m.AddSensor(context.Background(), sensorConfig("lonely", "device-test-failconnect"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no link")
	test.That(t, m.ListSensors(), test.ShouldBeEmpty)

	// the half-connected driver was told to let go
	seqMu.Lock()
	defer seqMu.Unlock()
	test.That(t, shutdownSeq, test.ShouldContain, "rollback_disconnect")
}

func TestManagerShutdownOrder(t *testing.T) {
	resetSeq()
	m := testManager(t)
	stopper := &stubStopper{}
	m.SetSessionStopper(stopper)

	test.That(t, m.AddSensor(context.Background(), sensorConfig("one", "device-test-recorder")), test.ShouldBeNil)
	test.That(t, m.AddSensor(context.Background(), sensorConfig("two", "device-test-recorder")), test.ShouldBeNil)

	test.That(t, m.Shutdown(context.Background()), test.ShouldBeNil)
	test.That(t, stopper.called, test.ShouldBeTrue)
	test.That(t, m.Board(), test.ShouldBeNil)
	test.That(t, m.ListSensors(), test.ShouldBeEmpty)

	seqMu.Lock()
	defer seqMu.Unlock()
	test.That(t, len(shutdownSeq), test.ShouldEqual, 3)
	test.That(t, shutdownSeq[0], test.ShouldEqual, "stop_sessions")
	test.That(t, shutdownSeq[1:], test.ShouldContain, "disconnect_one")
	test.That(t, shutdownSeq[1:], test.ShouldContain, "disconnect_two")
}

func TestManagerSelfTest(t *testing.T) {
	m := testManager(t)
	test.That(t, m.AddSensor(context.Background(), sensorConfig("air", "scd41")), test.ShouldBeNil)

	report, err := m.SelfTest(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report["sensor_count"], test.ShouldEqual, 1)

	boardReport, ok := report["board"].(map[string]interface{})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, boardReport["initialized"], test.ShouldBeTrue)

	sensorReports, ok := report["sensors"].(map[string]interface{})
	test.That(t, ok, test.ShouldBeTrue)
	airReport, ok := sensorReports["air"].(map[string]interface{})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, airReport["connected"], test.ShouldBeTrue)
}
