package bme280

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/sensord-io/sensord/board"
	boardfake "github.com/sensord-io/sensord/board/fake"
	"github.com/sensord-io/sensord/sensor"
	"github.com/sensord-io/sensord/testutils/inject"
	"github.com/sensord-io/sensord/utils"
)

// seedChip loads a register file with the Bosch datasheet example trimming
// coefficients and one measurement frame that compensates to 25.08 degC and
// roughly 1006.5 hPa.
func seedChip(chipID byte) *boardfake.Device {
	dev := boardfake.NewDevice()
	dev.SetReg(0xD0, chipID)

	// dig_T1..dig_P9, little endian words starting at 0x88.
	dev.LoadBlock(0x88, []byte{
		0x70, 0x6B, // T1 27504
		0x43, 0x67, // T2 26435
		0x18, 0xFC, // T3 -1000
		0x7D, 0x8E, // P1 36477
		0x43, 0xD6, // P2 -10685
		0xD0, 0x0B, // P3 3024
		0x27, 0x0B, // P4 2855
		0x8C, 0x00, // P5 140
		0xF9, 0xFF, // P6 -7
		0x8C, 0x3C, // P7 15500
		0xF8, 0xC6, // P8 -14600
		0x70, 0x17, // P9 6000
	})

	// Humidity coefficients: H1, then H2..H6 with the shared nibble at 0xE5.
	dev.SetReg(0xA1, 0x4B)
	dev.LoadBlock(0xE1, []byte{0x63, 0x01, 0x00, 0x15, 0x03, 0x00, 0x1E})

	// Raw frame: adc_P 415148, adc_T 519888, adc_H 30000.
	dev.LoadBlock(0xF7, []byte{0x65, 0x5A, 0xC0, 0x7E, 0xED, 0x00, 0x75, 0x30})
	return dev
}

func chipBoard(addr byte, chipID byte) *inject.Board {
	bus := boardfake.NewI2C()
	bus.AddDevice(addr, seedChip(chipID))

	b := &inject.Board{}
	b.NameFunc = func() string { return "host" }
	b.I2CFunc = func() (board.I2C, error) { return bus, nil }
	return b
}

func bringUp(t *testing.T, model string, addr byte, chipID byte, calib utils.AttributeMap) *Sensor {
	t.Helper()
	s, err := newSensor(chipBoard(addr, chipID), sensor.Config{
		Name:             "outdoor",
		Model:            model,
		ConnectionParams: utils.AttributeMap{"i2c_addr": int(addr)},
		Calibration:      calib,
	}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Initialize(context.Background()), test.ShouldBeNil)
	test.That(t, s.Connect(context.Background()), test.ShouldBeNil)
	return s
}

func TestCompensatedReadings(t *testing.T) {
	s := bringUp(t, ModelBME280, 0x77, chipIDBME280, nil)

	readings, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings, test.ShouldHaveLength, 4)

	byEntity := map[string]float64{}
	for _, r := range readings {
		byEntity[r.EntityID] = r.Value
		test.That(t, r.Quality, test.ShouldEqual, 1.0)
	}
	test.That(t, byEntity["outdoor_temperature"], test.ShouldEqual, 25.08)
	test.That(t, byEntity["outdoor_pressure"], test.ShouldBeBetween, 1006.0, 1007.0)
	test.That(t, byEntity["outdoor_altitude"], test.ShouldBeBetween, 40.0, 70.0)
	test.That(t, byEntity["outdoor_humidity"], test.ShouldBeBetweenOrEqual, 0.0, 100.0)
}

func TestBMP280HasNoHumidity(t *testing.T) {
	s := bringUp(t, ModelBMP280, 0x76, chipIDBMP280, nil)

	entities := s.Entities()
	test.That(t, entities, test.ShouldHaveLength, 3)
	for _, e := range entities {
		test.That(t, e.ID, test.ShouldNotEqual, "outdoor_humidity")
	}

	readings, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings, test.ShouldHaveLength, 3)
}

func TestCalibrationShiftsTemperature(t *testing.T) {
	s := bringUp(t, ModelBME280, 0x77, chipIDBME280, utils.AttributeMap{
		"outdoor_temperature_offset":     -0.08,
		"outdoor_temperature_multiplier": 1.0,
	})

	readings, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)
	for _, r := range readings {
		if r.EntityID == "outdoor_temperature" {
			test.That(t, r.Value, test.ShouldEqual, 25.0)
		}
	}
}

func TestSeaLevelPressureDrivesAltitude(t *testing.T) {
	s := bringUp(t, ModelBME280, 0x77, chipIDBME280, nil)

	base, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)

	// A lower reference pressure means the measured pressure reads as a lower
	// altitude.
	test.That(t, s.Calibrate(context.Background(), utils.AttributeMap{
		CalibrationSeaLevelPressure: 1006.0,
	}), test.ShouldBeNil)
	adjusted, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)

	altOf := func(rs []sensor.Reading) float64 {
		for _, r := range rs {
			if r.EntityID == "outdoor_altitude" {
				return r.Value
			}
		}
		t.Fatal("no altitude reading")
		return 0
	}
	test.That(t, altOf(adjusted), test.ShouldBeLessThan, altOf(base))
}

func TestWrongChipIDRejected(t *testing.T) {
	s, err := newSensor(chipBoard(0x77, 0x42), sensor.Config{
		Name:             "outdoor",
		Model:            ModelBME280,
		ConnectionParams: utils.AttributeMap{"i2c_addr": 0x77},
	}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	err = s.Initialize(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unexpected chip id")
}

func TestBoardWithoutI2CRejected(t *testing.T) {
	b := &inject.Board{}
	b.NameFunc = func() string { return "host" }
	b.I2CFunc = func() (board.I2C, error) {
		return nil, utils.NewUnsupportedError("i2c", "host")
	}

	_, err := newSensor(b, sensor.Config{
		Name:  "outdoor",
		Model: ModelBME280,
	}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no i2c bus")
}

func TestNoDeviceAtAddress(t *testing.T) {
	s := bringUp(t, ModelBME280, 0x77, chipIDBME280, nil)
	s.addr = 0x76

	_, err := s.Readings(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no i2c device")
}
