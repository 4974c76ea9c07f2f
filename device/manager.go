// Package device wires one host board and its sensor set together behind a
// single structural lock. The manager resolves configs to drivers, owns their
// lifecycle, and is the only component allowed to mutate what hardware the
// host is running; reads themselves happen outside the lock so a slow sensor
// cannot stall the rest of the system.
package device

import (
	"context"
	"sort"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"github.com/sensord-io/sensord/board"
	"github.com/sensord-io/sensord/sensor"
	"github.com/sensord-io/sensord/utils"
)

// A SessionStopper halts every live measurement session and waits for their
// goroutines to drain. The session scheduler implements it; the indirection
// exists so shutdown can run sessions-first without the manager importing the
// scheduler.
type SessionStopper interface {
	StopAll(ctx context.Context)
}

// SensorInfo is a point-in-time description of one managed sensor.
type SensorInfo struct {
	Config    sensor.Config      `json:"config"`
	Entities  []sensor.Entity    `json:"entities"`
	Connected bool               `json:"connected"`
	Driver    *sensor.DriverInfo `json:"driver,omitempty"`
}

// Options configure a manager.
type Options struct {
	// Simulate forces simulated drivers for the board and every sensor
	// regardless of what the host could support.
	Simulate bool
}

type sensorEntry struct {
	cfg    sensor.Config
	driver sensor.Sensor
}

// A Manager owns the host board and the registered sensor set. One mutex
// serializes every structural operation; per spec of the drivers, handing out
// readings does not take it for longer than the registry lookup.
type Manager struct {
	logger   golog.Logger
	forceSim bool

	mu      sync.Mutex
	board   board.Board
	sensors map[string]*sensorEntry
	stopper SessionStopper
}

// NewManager returns a manager with no board and no sensors.
func NewManager(opts Options, logger golog.Logger) *Manager {
	forceSim := opts.Simulate
	if !board.HostSupportsRealHardware() {
		forceSim = true
	}
	return &Manager{
		logger:   logger,
		forceSim: forceSim,
		sensors:  map[string]*sensorEntry{},
	}
}

// SetSessionStopper injects the component that owns live sessions so
// Shutdown can stop them first. Typically called once at wiring time.
func (m *Manager) SetSessionStopper(s SessionStopper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopper = s
}

// Initialize resolves and brings up the host board.
func (m *Manager) Initialize(ctx context.Context, cfg board.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.board != nil {
		return errors.Errorf("manager already initialized with board %q", m.board.Name())
	}

	b, err := board.NewBoard(ctx, cfg, board.Options{ForceSim: m.forceSim}, m.logger)
	if err != nil {
		return errors.Wrap(err, "resolving board")
	}
	if err := b.Initialize(ctx); err != nil {
		return errors.Wrapf(err, "initializing board %q", cfg.Name)
	}

	m.board = b
	m.logger.Infow("board initialized",
		"board", b.Name(), "board_type", cfg.Model, "capabilities", len(b.Capabilities()))
	return nil
}

// Board returns the managed board, nil before Initialize.
func (m *Manager) Board() board.Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.board
}

// AddSensor resolves the config to a driver, initializes and connects it, and
// registers it under its configured name. A failure at any stage leaves the
// manager unchanged.
func (m *Manager) AddSensor(ctx context.Context, cfg sensor.Config) error {
	if err := cfg.Validate(cfg.Name); err != nil {
		return err
	}
	if !cfg.IsEnabled() {
		return errors.Errorf("sensor %q is disabled", cfg.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.board == nil {
		return errors.New("board not initialized")
	}
	if _, exists := m.sensors[cfg.Name]; exists {
		return utils.NewDuplicateSensorError(cfg.Name)
	}

	s, err := sensor.New(ctx, m.board, cfg, sensor.Options{ForceSim: m.forceSim}, m.logger)
	if err != nil {
		return errors.Wrapf(err, "resolving driver for sensor %q", cfg.Name)
	}
	if err := s.Initialize(ctx); err != nil {
		return errors.Wrapf(err, "initializing sensor %q", cfg.Name)
	}
	if err := s.Connect(ctx); err != nil {
		goutils.UncheckedError(s.Disconnect(ctx))
		return errors.Wrapf(err, "connecting sensor %q", cfg.Name)
	}

	m.sensors[cfg.Name] = &sensorEntry{cfg: cfg, driver: s}
	m.logger.Infow("sensor added",
		"sensor", cfg.Name, "driver", cfg.Model, "entities", len(s.Entities()))
	return nil
}

// RemoveSensor disconnects and deregisters a sensor. A disconnect failure is
// logged; the sensor is removed regardless.
func (m *Manager) RemoveSensor(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sensors[id]
	if !ok {
		return utils.NewSensorNotFoundError(id)
	}
	if err := entry.driver.Disconnect(ctx); err != nil {
		m.logger.Warnw("disconnect failed while removing sensor", "sensor", id, "error", err)
	}
	delete(m.sensors, id)
	m.logger.Infow("sensor removed", "sensor", id)
	return nil
}

// ReadSensor returns one batch of readings from a registered sensor. Only the
// lookup holds the manager lock; the read runs outside it.
func (m *Manager) ReadSensor(ctx context.Context, id string) ([]sensor.Reading, error) {
	m.mu.Lock()
	entry, ok := m.sensors[id]
	m.mu.Unlock()
	if !ok {
		return nil, utils.NewSensorNotFoundError(id)
	}

	readings, err := entry.driver.Readings(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "reading sensor %q", id)
	}
	return readings, nil
}

// SensorInfo describes a registered sensor: its config, entity set, link
// state and, when the model is cataloged, its driver metadata.
func (m *Manager) SensorInfo(id string) (SensorInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sensors[id]
	if !ok {
		return SensorInfo{}, utils.NewSensorNotFoundError(id)
	}

	cfg := entry.cfg
	cfg.ConnectionParams = entry.cfg.ConnectionParams.Copy()
	cfg.Calibration = entry.cfg.Calibration.Copy()

	info := SensorInfo{
		Config:    cfg,
		Entities:  entry.driver.Entities(),
		Connected: entry.driver.Connected(),
	}
	if di, known := sensor.LookupInfo(entry.cfg.Model); known {
		info.Driver = &di
	}
	return info, nil
}

// ListSensors returns the registered sensor ids, sorted.
func (m *Manager) ListSensors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sensors))
	for id := range m.sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SelfTest runs the board's and every sensor's self test concurrently and
// collects the reports. Individual failures land in the report under an
// "error" key rather than aborting the sweep.
func (m *Manager) SelfTest(ctx context.Context) (map[string]interface{}, error) {
	m.mu.Lock()
	b := m.board
	entries := make(map[string]sensor.Sensor, len(m.sensors))
	for id, e := range m.sensors {
		entries[id] = e.driver
	}
	m.mu.Unlock()

	var reportMu sync.Mutex
	sensorReports := map[string]interface{}{}
	report := map[string]interface{}{
		"sensor_count": len(entries),
		"sensors":      sensorReports,
	}

	g, gctx := errgroup.WithContext(ctx)
	if b != nil {
		g.Go(func() error {
			st, err := b.SelfTest(gctx)
			reportMu.Lock()
			defer reportMu.Unlock()
			if err != nil {
				report["board"] = map[string]interface{}{"error": err.Error()}
				return nil
			}
			report["board"] = st
			return nil
		})
	}
	for id, s := range entries {
		id, s := id, s
		g.Go(func() error {
			st, err := s.SelfTest(gctx)
			reportMu.Lock()
			defer reportMu.Unlock()
			if err != nil {
				sensorReports[id] = map[string]interface{}{"error": err.Error()}
				return nil
			}
			sensorReports[id] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

// Shutdown tears the host down in dependency order: live sessions first, then
// sensor links, then the board. Every step runs regardless of earlier
// failures; the combined error reports what went wrong along the way.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	stopper := m.stopper
	b := m.board
	entries := m.sensors
	m.board = nil
	m.sensors = map[string]*sensorEntry{}
	m.mu.Unlock()

	if stopper != nil {
		stopper.StopAll(ctx)
	}

	var errs error
	for id, entry := range entries {
		if err := entry.driver.Disconnect(ctx); err != nil {
			m.logger.Warnw("failed to disconnect sensor during shutdown", "sensor", id, "error", err)
			errs = multierr.Combine(errs, errors.Wrapf(err, "disconnecting sensor %q", id))
		}
	}

	if b != nil {
		if err := b.Cleanup(ctx); err != nil {
			m.logger.Warnw("failed to clean up board during shutdown", "board", b.Name(), "error", err)
			errs = multierr.Combine(errs, errors.Wrap(err, "cleaning up board"))
		}
	}

	m.logger.Infow("device manager shut down", "sensors_disconnected", len(entries))
	return errs
}
