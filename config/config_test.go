package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/sensord-io/sensord/sensor"
)

const sampleConfig = `{
	// the host board
	"board": {
		"board_type": "gpio",
		"name": "host",
		"i2c_bus": 1,
	},
	"sensors": [
		{
			"name": "room",
			"driver": "dht22",
			"connection_type": "gpio",
			"connection_params": {"pin": 4},
			"poll_interval": 2.0,
		},
		{
			"name": "pressure",
			"driver": "bmp280",
			"connection_type": "i2c",
			"connection_params": {"i2c_addr": 118},
			"poll_interval": 1.0,
			"enabled": false,
		},
	],
}`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensord.json")
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func TestReadSampleConfig(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg, err := Read(writeTempConfig(t, sampleConfig), logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cfg.Board.Model, test.ShouldEqual, "gpio")
	test.That(t, cfg.Board.Name, test.ShouldEqual, "host")
	test.That(t, cfg.Board.I2CBus, test.ShouldEqual, 1)
	test.That(t, cfg.Sensors, test.ShouldHaveLength, 2)
	test.That(t, cfg.Sensors[0].Model, test.ShouldEqual, "dht22")
	test.That(t, cfg.Sensors[0].ConnectionParams.GetInt("pin", 0), test.ShouldEqual, 4)
	test.That(t, cfg.Sensors[0].PollInterval(), test.ShouldEqual, 2*time.Second)

	enabled := cfg.EnabledSensors()
	test.That(t, enabled, test.ShouldHaveLength, 1)
	test.That(t, enabled[0].Name, test.ShouldEqual, "room")
}

func TestReadMissingFile(t *testing.T) {
	logger := golog.NewTestLogger(t)
	_, err := Read(filepath.Join(t.TempDir(), "nope.json"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidationFailuresNameThePath(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		expect   string
	}{
		{
			"board missing name",
			`{"board": {"board_type": "gpio"}}`,
			`"name" is required`,
		},
		{
			"sensor missing driver",
			`{"board": {"board_type": "gpio", "name": "host"},
			  "sensors": [{"name": "room"}]}`,
			`"driver" is required`,
		},
		{
			"negative poll interval",
			`{"board": {"board_type": "gpio", "name": "host"},
			  "sensors": [{"name": "room", "driver": "dht22", "poll_interval": -1}]}`,
			"poll_interval",
		},
		{
			"duplicate sensor names",
			`{"board": {"board_type": "gpio", "name": "host"},
			  "sensors": [
				{"name": "room", "driver": "dht22"},
				{"name": "room", "driver": "bmp280"}
			  ]}`,
			`duplicate sensor name "room"`,
		},
		{
			"bad voltage level",
			`{"board": {"board_type": "custom", "name": "host", "voltage_level": "9V"}}`,
			"voltage_level",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader(strings.NewReader(tc.contents))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.expect)
		})
	}
}

func TestWatcherDeliversChanges(t *testing.T) {
	logger := golog.NewTestLogger(t)
	path := writeTempConfig(t, sampleConfig)

	w, err := NewWatcher(context.Background(), path, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, w.Close(), test.ShouldBeNil)
	}()

	updated := strings.Replace(sampleConfig, `"name": "host"`, `"name": "host2"`, 1)
	test.That(t, os.WriteFile(path, []byte(updated), 0o600), test.ShouldBeNil)

	select {
	case cfg := <-w.Config():
		test.That(t, cfg, test.ShouldNotBeNil)
		test.That(t, cfg.Board.Name, test.ShouldEqual, "host2")
	case <-time.After(10 * time.Second):
		t.Fatal("no config delivered after file change")
	}
}

func TestWatcherSkipsBrokenConfig(t *testing.T) {
	logger := golog.NewTestLogger(t)
	path := writeTempConfig(t, sampleConfig)

	w, err := NewWatcher(context.Background(), path, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, w.Close(), test.ShouldBeNil)
	}()

	test.That(t, os.WriteFile(path, []byte(`{"board": {}}`), 0o600), test.ShouldBeNil)
	select {
	case cfg := <-w.Config():
		t.Fatalf("invalid config should not have been delivered: %#v", cfg)
	case <-time.After(time.Second):
	}

	// A subsequent good write still comes through.
	test.That(t, os.WriteFile(path, []byte(sampleConfig), 0o600), test.ShouldBeNil)
	select {
	case cfg := <-w.Config():
		test.That(t, cfg.Board.Name, test.ShouldEqual, "host")
	case <-time.After(10 * time.Second):
		t.Fatal("no config delivered after recovery")
	}
}

func TestSensorConfigDefaults(t *testing.T) {
	cfg := sensor.Config{Name: "room", Model: "dht22"}
	test.That(t, cfg.IsEnabled(), test.ShouldBeTrue)
	test.That(t, cfg.PollInterval(), test.ShouldEqual, time.Second)
}
