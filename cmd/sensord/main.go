// Package main contains the sensord daemon: it brings up the host board from a
// config file, registers the configured sensors, and runs measurement sessions
// over them until signalled to stop.
package main

import (
	"context"
	"reflect"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"

	_ "github.com/sensord-io/sensord/board/register"
	"github.com/sensord-io/sensord/config"
	"github.com/sensord-io/sensord/device"
	_ "github.com/sensord-io/sensord/sensor/register"
	"github.com/sensord-io/sensord/session"
	"github.com/sensord-io/sensord/stream"
)

var logger = golog.NewDevelopmentLogger("sensord")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,required,usage=daemon config file (json5)"`
	Simulate   bool   `flag:"simulate,usage=force simulated drivers for all hardware"`
	Debug      bool   `flag:"debug"`
	Watch      bool   `flag:"watch,usage=reload sensor set when the config file changes"`
	Run        string `flag:"run,usage=run one session over all sensors for this duration (e.g. 30s) and exit"`
	Interval   string `flag:"interval,default=1s,usage=poll interval for the -run session"`
	SelfTest   bool   `flag:"selftest,usage=run hardware self tests after startup"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		zl, err := cfg.Build()
		if err != nil {
			return err
		}
		logger = zl.Sugar().Named("sensord")
	}

	cfg, err := config.Read(argsParsed.ConfigFile, logger)
	if err != nil {
		return err
	}

	return runDaemon(ctx, cfg, argsParsed, logger)
}

func runDaemon(ctx context.Context, cfg *config.Config, args Arguments, logger golog.Logger) (err error) {
	manager := device.NewManager(device.Options{
		Simulate: args.Simulate || cfg.Simulate,
	}, logger)
	if err := manager.Initialize(ctx, cfg.Board); err != nil {
		return err
	}

	hub := stream.NewHub(logger)
	scheduler := session.NewScheduler(manager, hub, clock.New(), logger)
	manager.SetSessionStopper(scheduler)
	defer func() {
		// Shutdown stops live sessions first, then sensors, then the board.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = multierr.Combine(err, manager.Shutdown(shutdownCtx))
		hub.Close()
	}()

	for _, sc := range cfg.EnabledSensors() {
		if err := manager.AddSensor(ctx, sc); err != nil {
			// One bad sensor does not take the daemon down.
			logger.Errorw("failed to add sensor", "sensor", sc.Name, "error", err)
		}
	}
	logger.Infow("daemon ready", "sensors", manager.ListSensors())

	if args.SelfTest {
		report, err := manager.SelfTest(ctx)
		if err != nil {
			return err
		}
		logger.Infow("self test", "report", report)
	}

	var watcher *config.Watcher
	if args.Watch {
		watcher, err = config.NewWatcher(ctx, args.ConfigFile, logger)
		if err != nil {
			return err
		}
		defer goutils.UncheckedErrorFunc(watcher.Close)
	}

	if args.Run != "" {
		return runBoundedSession(ctx, manager, scheduler, hub, args, logger)
	}

	goutils.ContextMainReadyFunc(ctx)()
	if watcher == nil {
		<-ctx.Done()
		return nil
	}

	current := cfg
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-watcher.Config():
			if !ok {
				return nil
			}
			applyConfigDiff(ctx, manager, current, next, logger)
			current = next
		}
	}
}

// runBoundedSession starts one duration-bounded session over every registered
// sensor, echoes its traffic to the log, and returns when it finishes.
func runBoundedSession(
	ctx context.Context,
	manager *device.Manager,
	scheduler *session.Scheduler,
	hub *stream.Hub,
	args Arguments,
	logger golog.Logger,
) error {
	runFor, err := time.ParseDuration(args.Run)
	if err != nil {
		return errors.Wrap(err, "parsing -run")
	}
	interval, err := time.ParseDuration(args.Interval)
	if err != nil {
		return errors.Wrap(err, "parsing -interval")
	}

	sensorIDs := manager.ListSensors()
	if len(sensorIDs) == 0 {
		return errors.New("no sensors registered, nothing to sample")
	}

	sess, err := scheduler.Start(ctx, session.StartRequest{
		SensorIDs: sensorIDs,
		Interval:  interval,
		Duration:  runFor,
	})
	if err != nil {
		return err
	}

	msgs := make(chan stream.Message, 16)
	if err := hub.Subscribe(sess.ID, "console", msgs); err != nil {
		return err
	}
	defer hub.Unsubscribe(sess.ID, "console")

	logger.Infow("session started",
		"session", sess.ID, "sensors", sensorIDs, "interval", interval, "duration", runFor)
	goutils.ContextMainReadyFunc(ctx)()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			switch msg.Type {
			case stream.MessageReadings:
				for _, r := range msg.Readings {
					logger.Infow("reading",
						"entity", r.EntityID, "value", r.Value, "quality", r.Quality)
				}
			case stream.MessageError:
				logger.Warnw("session error", "session", msg.SessionID, "error", msg.Error)
			case stream.MessageStatus:
				logger.Infow("session status", "session", msg.SessionID, "status", msg.Status)
				if session.Status(msg.Status).Terminal() {
					final, err := scheduler.Info(sess.ID)
					if err == nil {
						logger.Infow("session finished",
							"status", final.Status,
							"readings", final.ReadingsCount,
							"errors", final.ErrorCount)
					}
					return nil
				}
			}
		}
	}
}

// applyConfigDiff reconciles the registered sensor set with a freshly loaded
// config: removed or changed sensors are dropped, then new or changed ones
// added. Board changes need a restart and only warn.
func applyConfigDiff(ctx context.Context, manager *device.Manager, old, next *config.Config, logger golog.Logger) {
	if !reflect.DeepEqual(old.Board, next.Board) {
		logger.Warnw("board configuration changed; restart to apply")
	}

	oldSensors := map[string]int{}
	for i, sc := range old.EnabledSensors() {
		oldSensors[sc.Name] = i
	}
	oldEnabled := old.EnabledSensors()

	nextSensors := map[string]bool{}
	for _, sc := range next.EnabledSensors() {
		nextSensors[sc.Name] = true
	}

	for _, id := range manager.ListSensors() {
		idx, existed := oldSensors[id]
		keep := nextSensors[id]
		if keep && existed {
			for _, sc := range next.EnabledSensors() {
				if sc.Name == id && !reflect.DeepEqual(oldEnabled[idx], sc) {
					keep = false // changed in place, re-add below
				}
			}
		}
		if !keep {
			if err := manager.RemoveSensor(ctx, id); err != nil {
				logger.Warnw("failed to remove sensor on reload", "sensor", id, "error", err)
			}
		}
	}

	registered := map[string]bool{}
	for _, id := range manager.ListSensors() {
		registered[id] = true
	}
	for _, sc := range next.EnabledSensors() {
		if registered[sc.Name] {
			continue
		}
		if err := manager.AddSensor(ctx, sc); err != nil {
			logger.Errorw("failed to add sensor on reload", "sensor", sc.Name, "error", err)
		}
	}
	logger.Infow("configuration reloaded", "sensors", manager.ListSensors())
}
