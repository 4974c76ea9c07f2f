package sensor

import (
	"context"
	"sort"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/sensord-io/sensord/board"
)

// ModelHintParam is the connection parameter the resolver sets on a generic
// simulator so it can shape its entities after the requested model.
const ModelHintParam = "sensor_model"

// A CreateSensor constructs a sensor from a config. The board may be ignored
// by drivers that do not talk to host hardware.
type CreateSensor func(ctx context.Context, b board.Board, cfg Config, logger golog.Logger) (Sensor, error)

// Category groups driver models for catalog queries.
type Category string

// Driver categories.
const (
	CategoryEnvironmental = Category("environmental")
	CategoryMotion        = Category("motion")
	CategoryLight         = Category("light")
	CategoryAnalog        = Category("analog")
	CategoryCustom        = Category("custom")
)

// EntityInfo describes one entity a driver model declares, before any
// instance exists.
type EntityInfo struct {
	Name      string
	Unit      string
	Type      Type
	Precision int
}

// DriverInfo is the static catalog entry for a driver model.
type DriverInfo struct {
	Model               string
	DisplayName         string
	Description         string
	Category            Category
	ConnectionTypes     []ConnectionType
	Entities            []EntityInfo
	MinPollIntervalSec  float64
	RequiresCalibration bool
	SupportsBoards      []string
	DatasheetURL        string
}

var (
	sensorRegistry     = map[string]CreateSensor{}
	simSensorRegistry  = map[string]CreateSensor{}
	genericSimCreator  CreateSensor
	driverInfoRegistry = map[string]DriverInfo{}
)

// RegisterSensor registers a real driver for a model.
func RegisterSensor(model string, creator CreateSensor) {
	_, old := sensorRegistry[model]
	if old {
		panic(errors.Errorf("trying to register two sensor drivers with same model %s", model))
	}
	sensorRegistry[model] = creator
}

// RegisterSimSensor registers the simulated counterpart for a model.
func RegisterSimSensor(model string, creator CreateSensor) {
	_, old := simSensorRegistry[model]
	if old {
		panic(errors.Errorf("trying to register two simulated sensor drivers with same model %s", model))
	}
	simSensorRegistry[model] = creator
}

// RegisterGenericSimSensor registers the catch-all simulator used when no
// model specific driver resolves.
func RegisterGenericSimSensor(creator CreateSensor) {
	if genericSimCreator != nil {
		panic(errors.New("trying to register two generic simulated sensor drivers"))
	}
	genericSimCreator = creator
}

// RegisterDriverInfo records catalog metadata for a model.
func RegisterDriverInfo(info DriverInfo) {
	_, old := driverInfoRegistry[info.Model]
	if old {
		panic(errors.Errorf("trying to register driver info twice for model %s", info.Model))
	}
	driverInfoRegistry[info.Model] = info
}

// LookupInfo returns the catalog entry for a model, if one was registered.
func LookupInfo(model string) (DriverInfo, bool) {
	info, ok := driverInfoRegistry[model]
	return info, ok
}

// RegisteredModels returns every model with catalog metadata, sorted.
func RegisteredModels() []string {
	models := make([]string, 0, len(driverInfoRegistry))
	for m := range driverInfoRegistry {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// ModelsForBoard returns catalog entries usable on the given board model.
func ModelsForBoard(boardModel string) []DriverInfo {
	return filterInfo(func(info DriverInfo) bool {
		for _, b := range info.SupportsBoards {
			if b == boardModel {
				return true
			}
		}
		return false
	})
}

// ModelsForCategory returns catalog entries in the given category.
func ModelsForCategory(c Category) []DriverInfo {
	return filterInfo(func(info DriverInfo) bool { return info.Category == c })
}

// ModelsForConnection returns catalog entries supporting the given interface.
func ModelsForConnection(ct ConnectionType) []DriverInfo {
	return filterInfo(func(info DriverInfo) bool {
		for _, c := range info.ConnectionTypes {
			if c == ct {
				return true
			}
		}
		return false
	})
}

func filterInfo(keep func(DriverInfo) bool) []DriverInfo {
	var out []DriverInfo
	for _, m := range RegisteredModels() {
		if info := driverInfoRegistry[m]; keep(info) {
			out = append(out, info)
		}
	}
	return out
}

// Options direct how New resolves a config to a driver.
type Options struct {
	// ForceSim skips real drivers entirely, as when the host platform
	// cannot drive hardware or simulation is globally requested.
	ForceSim bool
}

// New resolves a sensor config to a usable driver instance. Resolution
// degrades from the real driver, to a model specific simulator, to the
// generic simulator seeded with the model name, and so never fails once the
// simulated model set is linked into the binary. A real driver that fails to
// construct is logged and silently replaced by its simulated stand-in; the
// rest of the system only sees the difference through advertised
// capabilities.
func New(ctx context.Context, b board.Board, cfg Config, opts Options, logger golog.Logger) (Sensor, error) {
	if !opts.ForceSim {
		if creator, have := sensorRegistry[cfg.Model]; have {
			s, err := creator(ctx, b, cfg, logger)
			if err == nil {
				return s, nil
			}
			logger.Warnw("real sensor driver failed to construct, falling back to simulation",
				"model", cfg.Model, "sensor", cfg.Name, "error", err)
		} else {
			logger.Debugw("no real driver for model, using simulation",
				"model", cfg.Model, "sensor", cfg.Name)
		}
	}

	if creator, have := simSensorRegistry[cfg.Model]; have {
		s, err := creator(ctx, b, cfg, logger)
		if err == nil {
			return s, nil
		}
		logger.Warnw("simulated sensor driver failed to construct, falling back to generic simulation",
			"model", cfg.Model, "sensor", cfg.Name, "error", err)
	}

	if genericSimCreator == nil {
		return nil, errors.Errorf("no generic simulated driver registered to stand in for model %q", cfg.Model)
	}

	hinted := cfg
	hinted.ConnectionParams = cfg.ConnectionParams.Copy()
	hinted.ConnectionParams[ModelHintParam] = cfg.Model
	return genericSimCreator(ctx, b, hinted, logger)
}
