package inject

import (
	"context"

	"github.com/sensord-io/sensord/sensor"
	"github.com/sensord-io/sensord/utils"
)

// Sensor is an injected sensor.
type Sensor struct {
	sensor.Sensor
	InitializeFunc func(ctx context.Context) error
	ConnectFunc    func(ctx context.Context) error
	DisconnectFunc func(ctx context.Context) error
	ReadingsFunc   func(ctx context.Context) ([]sensor.Reading, error)
	EntitiesFunc   func() []sensor.Entity
	CalibrateFunc  func(ctx context.Context, calibration utils.AttributeMap) error
	SelfTestFunc   func(ctx context.Context) (map[string]interface{}, error)
	ConnectedFunc  func() bool
}

func (s *Sensor) Initialize(ctx context.Context) error {
	if s.InitializeFunc == nil {
		return s.Sensor.Initialize(ctx)
	}
	return s.InitializeFunc(ctx)
}

func (s *Sensor) Connect(ctx context.Context) error {
	if s.ConnectFunc == nil {
		return s.Sensor.Connect(ctx)
	}
	return s.ConnectFunc(ctx)
}

func (s *Sensor) Disconnect(ctx context.Context) error {
	if s.DisconnectFunc == nil {
		return s.Sensor.Disconnect(ctx)
	}
	return s.DisconnectFunc(ctx)
}

func (s *Sensor) Readings(ctx context.Context) ([]sensor.Reading, error) {
	if s.ReadingsFunc == nil {
		return s.Sensor.Readings(ctx)
	}
	return s.ReadingsFunc(ctx)
}

func (s *Sensor) Entities() []sensor.Entity {
	if s.EntitiesFunc == nil {
		return s.Sensor.Entities()
	}
	return s.EntitiesFunc()
}

func (s *Sensor) Calibrate(ctx context.Context, calibration utils.AttributeMap) error {
	if s.CalibrateFunc == nil {
		return s.Sensor.Calibrate(ctx, calibration)
	}
	return s.CalibrateFunc(ctx, calibration)
}

func (s *Sensor) SelfTest(ctx context.Context) (map[string]interface{}, error) {
	if s.SelfTestFunc == nil {
		return s.Sensor.SelfTest(ctx)
	}
	return s.SelfTestFunc(ctx)
}

func (s *Sensor) Connected() bool {
	if s.ConnectedFunc == nil {
		return s.Sensor.Connected()
	}
	return s.ConnectedFunc()
}
