package board

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
	goutils "go.viam.com/utils"

	"github.com/sensord-io/sensord/utils"
)

// An AnalogSmoother samples one ADC channel in the background and serves the
// average voltage over a sliding window, hiding sample noise from pollers
// that run much slower than the underlying signal.
type AnalogSmoother struct {
	AverageOverMillis int
	SamplesPerSecond  int

	b       Board
	channel int
	logger  golog.Logger

	mu       sync.Mutex
	data     *utils.RollingAverage
	lastData float64

	lastError               atomic.Pointer[errValue]
	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// An errValue is used to atomically store an error.
type errValue struct {
	present bool
	err     error
}

// SmoothAnalogReader starts a smoother over the given board channel.
func SmoothAnalogReader(b Board, channel, averageOverMillis, samplesPerSecond int, logger golog.Logger) *AnalogSmoother {
	if samplesPerSecond <= 0 {
		logger.Debug("can't read nonpositive samples per second; defaulting to 1 instead")
		samplesPerSecond = 1
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	smoother := &AnalogSmoother{
		AverageOverMillis: averageOverMillis,
		SamplesPerSecond:  samplesPerSecond,
		b:                 b,
		channel:           channel,
		logger:            logger,
		cancelCtx:         cancelCtx,
		cancelFunc:        cancelFunc,
	}
	smoother.start()
	return smoother
}

// Read returns the smoothed reading, or the last raw sample when the window
// is too small to average over. A sampling error is returned alongside the
// stale value so callers can tell the data stopped moving.
func (as *AnalogSmoother) Read(ctx context.Context) (float64, error) {
	as.mu.Lock()
	var value float64
	if as.data == nil {
		value = as.lastData
	} else {
		value = as.data.Average()
	}
	as.mu.Unlock()

	if lastErr := as.lastError.Load(); lastErr != nil && lastErr.present {
		return value, lastErr.err
	}
	return value, nil
}

// Close stops the sampling routine.
func (as *AnalogSmoother) Close(ctx context.Context) error {
	as.cancelFunc()
	as.activeBackgroundWorkers.Wait()
	return nil
}

func (as *AnalogSmoother) start() {
	numSamples := (as.SamplesPerSecond * as.AverageOverMillis) / 1000
	nanosBetween := int64(1e9) / int64(as.SamplesPerSecond)
	if numSamples >= 1 {
		as.data = utils.NewRollingAverage(numSamples)
	} else {
		as.logger.Debug("too few samples to smooth over; defaulting to raw data")
		as.data = nil
	}

	as.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		consecutiveErrors := 0
		var lastError error

		for {
			select {
			case <-as.cancelCtx.Done():
				return
			default:
			}
			start := time.Now()
			reading, err := as.b.ReadAnalog(as.cancelCtx, as.channel)
			as.lastError.Store(&errValue{err != nil, err})
			if err == nil {
				as.mu.Lock()
				as.lastData = reading
				if as.data != nil {
					as.data.Add(reading)
				}
				as.mu.Unlock()
				consecutiveErrors = 0
			} else {
				if lastError != nil && err.Error() == lastError.Error() {
					consecutiveErrors++
				} else {
					as.logger.Infow("error reading analog", "channel", as.channel, "error", err)
					consecutiveErrors = 0
				}
				// remind us of a stuck problem every 10 seconds, not every sample
				if consecutiveErrors == as.SamplesPerSecond*10 {
					as.logger.Errorw("unable to read analog for 10 seconds",
						"channel", as.channel, "error", err)
					consecutiveErrors = 0
				}
			}
			lastError = err

			toSleep := nanosBetween - (time.Now().UnixNano() - start.UnixNano())
			if !goutils.SelectContextOrWait(as.cancelCtx, time.Duration(toSleep)) {
				return
			}
		}
	}, as.activeBackgroundWorkers.Done)
}
