package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/sensord-io/sensord/device"
	"github.com/sensord-io/sensord/sensor"
	"github.com/sensord-io/sensord/stream"
	"github.com/sensord-io/sensord/utils"
)

// A Reader hands out sensor readings and metadata; the device manager
// implements it.
type Reader interface {
	ReadSensor(ctx context.Context, id string) ([]sensor.Reading, error)
	SensorInfo(id string) (device.SensorInfo, error)
}

// A Scheduler creates, runs and tears down measurement sessions. Each live
// session is one background goroutine; the scheduler serializes its own
// bookkeeping under one mutex and never holds it across a sensor read.
type Scheduler struct {
	reader Reader
	hub    *stream.Hub
	clock  clock.Clock
	logger golog.Logger

	mu       sync.Mutex
	live     map[string]*task
	terminal map[string]Session
	closed   bool

	activeBackgroundWorkers sync.WaitGroup
}

// task is the live half of a session: the running snapshot plus the handles
// needed to cancel and drain its goroutine.
type task struct {
	mu       sync.Mutex
	snapshot Session

	cancelCtx  context.Context
	cancelFunc func()
	done       chan struct{}
}

func (tk *task) view() Session {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	s := tk.snapshot
	s.SensorIDs = append([]string(nil), tk.snapshot.SensorIDs...)
	return s
}

// NewScheduler returns a scheduler with no sessions. Pass clock.New() outside
// of tests.
func NewScheduler(reader Reader, hub *stream.Hub, clk clock.Clock, logger golog.Logger) *Scheduler {
	return &Scheduler{
		reader:   reader,
		hub:      hub,
		clock:    clk,
		logger:   logger,
		live:     map[string]*task{},
		terminal: map[string]Session{},
	}
}

// Start validates the request, registers the session and launches its polling
// task. Every referenced sensor must already be registered with the device
// manager; nothing is created otherwise. The returned snapshot shows the
// session as it was the moment the task launched.
func (s *Scheduler) Start(ctx context.Context, req StartRequest) (Session, error) {
	if len(req.SensorIDs) == 0 {
		return Session{}, errors.New("session needs at least one sensor")
	}
	if req.Interval <= 0 {
		return Session{}, errors.Errorf("session interval must be positive, got %v", req.Interval)
	}
	if req.Duration < 0 {
		return Session{}, errors.Errorf("session duration cannot be negative, got %v", req.Duration)
	}

	// Fail fast before touching scheduler state. Also collect the poll
	// floors the sensors' drivers declare.
	interval := req.Interval
	for _, id := range req.SensorIDs {
		info, err := s.reader.SensorInfo(id)
		if err != nil {
			return Session{}, err
		}
		if info.Driver == nil {
			continue
		}
		if floor := time.Duration(info.Driver.MinPollIntervalSec * float64(time.Second)); floor > interval {
			interval = floor
		}
	}
	if interval != req.Interval {
		s.logger.Warnw("session interval below a sensor's minimum poll interval, raising it",
			"requested", req.Interval, "effective", interval)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Session{}, errors.New("scheduler is closed")
	}
	if _, exists := s.live[id]; exists {
		return Session{}, utils.NewDuplicateSessionError(id)
	}
	// A terminal snapshot under the same id is superseded by the new run.
	delete(s.terminal, id)

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	tk := &task{
		snapshot: Session{
			ID:        id,
			SensorIDs: append([]string(nil), req.SensorIDs...),
			Interval:  interval,
			Duration:  req.Duration,
			Status:    StatusStarting,
		},
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		done:       make(chan struct{}),
	}
	s.live[id] = tk

	s.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		defer close(tk.done)
		s.run(tk)
	}, s.activeBackgroundWorkers.Done)

	s.logger.Infow("session started",
		"session", id, "sensors", len(req.SensorIDs), "interval", interval, "duration", req.Duration)
	return tk.view(), nil
}

// Stop cancels a live session's task, waits for it to drain and returns the
// terminal snapshot. Stopping an unknown or already terminal session reports
// not found rather than failing hard.
func (s *Scheduler) Stop(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	tk, live := s.live[id]
	s.mu.Unlock()
	if !live {
		return Session{}, utils.NewSessionNotFoundError(id)
	}

	s.setStatus(tk, StatusStopping, nil)
	tk.cancelFunc()

	select {
	case <-tk.done:
	case <-ctx.Done():
		return tk.view(), ctx.Err()
	}
	return s.retire(tk), nil
}

// StopAll stops every live session. It implements the device manager's
// shutdown hook.
func (s *Scheduler) StopAll(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.live))
	for _, tk := range s.live {
		tasks = append(tasks, tk)
	}
	s.mu.Unlock()

	for _, tk := range tasks {
		if _, err := s.Stop(ctx, tk.view().ID); err != nil && !utils.IsNotFoundError(err) {
			s.logger.Warnw("failed to stop session during shutdown",
				"session", tk.view().ID, "error", err)
		}
	}
}

// Info returns the current snapshot of a live or terminal session.
func (s *Scheduler) Info(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tk, live := s.live[id]; live {
		return tk.view(), nil
	}
	if snap, done := s.terminal[id]; done {
		return snap, nil
	}
	return Session{}, utils.NewSessionNotFoundError(id)
}

// List returns snapshots of every live and terminal session, sorted by id.
func (s *Scheduler) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(s.live)+len(s.terminal))
	for _, tk := range s.live {
		out = append(out, tk.view())
	}
	for _, snap := range s.terminal {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Purge removes a terminal session's snapshot. Live sessions cannot be
// purged; stop them first.
func (s *Scheduler) Purge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, live := s.live[id]; live {
		return errors.Errorf("session %q is still running", id)
	}
	if _, done := s.terminal[id]; !done {
		return utils.NewSessionNotFoundError(id)
	}
	delete(s.terminal, id)
	return nil
}

// PurgeTerminal drops every terminal snapshot and reports how many went.
func (s *Scheduler) PurgeTerminal() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.terminal)
	s.terminal = map[string]Session{}
	return n
}

// Close stops every session and waits for all task goroutines to exit. The
// scheduler accepts no new sessions afterwards.
func (s *Scheduler) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.StopAll(ctx)
	s.activeBackgroundWorkers.Wait()
}

// retire moves a drained task's snapshot from the live set to the terminal
// set and returns it.
func (s *Scheduler) retire(tk *task) Session {
	snap := tk.view()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, live := s.live[snap.ID]; live {
		delete(s.live, snap.ID)
		s.terminal[snap.ID] = snap
	}
	return snap
}

// setStatus advances the session's state and tells the hub, unless the
// session already reached a terminal state.
func (s *Scheduler) setStatus(tk *task, status Status, meta map[string]interface{}) {
	tk.mu.Lock()
	if tk.snapshot.Status.Terminal() {
		tk.mu.Unlock()
		return
	}
	tk.snapshot.Status = status
	if status.Terminal() {
		now := s.clock.Now()
		tk.snapshot.EndedAt = &now
	}
	id := tk.snapshot.ID
	tk.mu.Unlock()

	s.hub.PublishStatus(id, string(status), meta)
}

// run is the per-session polling task. Cancellation is observed at the top of
// each iteration and during the inter-tick sleep; the finalize step runs no
// matter how the loop exits, so a session never disappears without an end
// time.
func (s *Scheduler) run(tk *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("session task panicked",
				"session", tk.view().ID, "panic", r)
			s.setStatus(tk, StatusError, map[string]interface{}{"reason": "task panic"})
		}
		s.finalize(tk)
	}()

	tk.mu.Lock()
	start := s.clock.Now()
	tk.snapshot.StartedAt = &start
	id := tk.snapshot.ID
	sensorIDs := append([]string(nil), tk.snapshot.SensorIDs...)
	interval := tk.snapshot.Interval
	duration := tk.snapshot.Duration
	tk.mu.Unlock()

	s.setStatus(tk, StatusRunning, nil)

	for {
		select {
		case <-tk.cancelCtx.Done():
			return
		default:
		}

		batch := s.sampleOnce(tk, id, sensorIDs)
		s.hub.PublishReadings(id, batch)

		// Don't begin a sleep that would end past the deadline; the last
		// partial tick is skipped rather than sampled late.
		if duration > 0 && s.clock.Since(start)+interval >= duration {
			s.logger.Debugw("session duration elapsed", "session", id)
			s.setStatus(tk, StatusCompleted, nil)
			return
		}

		timer := s.clock.Timer(interval)
		select {
		case <-tk.cancelCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// sampleOnce reads every sensor of the session in order. A failed read
// increments the error counter and is reported to the hub but never stops
// the iteration; whatever readings did arrive are returned.
func (s *Scheduler) sampleOnce(tk *task, id string, sensorIDs []string) []sensor.Reading {
	var batch []sensor.Reading
	for _, sensorID := range sensorIDs {
		readings, err := s.reader.ReadSensor(tk.cancelCtx, sensorID)
		if err != nil {
			tk.mu.Lock()
			tk.snapshot.ErrorCount++
			tk.mu.Unlock()
			s.logger.Debugw("sensor read failed inside session",
				"session", id, "sensor", sensorID, "error", err)
			s.hub.PublishError(id, err.Error(), map[string]interface{}{"sensor_id": sensorID})
			continue
		}
		batch = append(batch, readings...)
	}

	tk.mu.Lock()
	tk.snapshot.ReadingsCount += len(batch)
	tk.mu.Unlock()
	return batch
}

// finalize pins the terminal status and end time. A task cancelled by Stop
// lands in Completed; one that exited on its own already set its state.
func (s *Scheduler) finalize(tk *task) {
	s.setStatus(tk, StatusCompleted, nil)
	s.retire(tk)

	snap := tk.view()
	s.logger.Infow("session finished",
		"session", snap.ID, "status", snap.Status,
		"readings", snap.ReadingsCount, "errors", snap.ErrorCount)
}
