//go:build linux

package genericlinux

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/mkch/gpio"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/sensord-io/sensord/board"
)

const gpioConsumer = "sensord"

// gpioPin is one character-device GPIO line. PWM is generated in software by
// a background goroutine toggling the line, which is plenty for LEDs, fans
// and slow actuators; anything needing hardware PWM precision should use a
// dedicated controller.
type gpioPin struct {
	devicePath string
	offset     uint32

	mu   sync.Mutex
	line *gpio.Line
	mode board.PinMode

	pwmRunning      bool
	pwmFreqHz       uint
	pwmDutyCyclePct float64

	cancelCtx context.Context
	waitGroup *sync.WaitGroup
	logger    golog.Logger
}

// openLine claims the line in the given direction, reopening it when the
// direction changes. Callers must hold the mutex.
func (pin *gpioPin) openLine(output bool) error {
	wantMode := board.PinInput
	flag := gpio.Input
	if output {
		wantMode = board.PinOutput
		flag = gpio.Output
	}
	if pin.line != nil {
		if pin.mode == wantMode || (pin.mode == board.PinPWM && output) {
			return nil
		}
		if err := pin.line.Close(); err != nil {
			return errors.Wrap(err, "reopening gpio line")
		}
		pin.line = nil
	}

	chip, err := gpio.OpenChip(pin.devicePath)
	if err != nil {
		return errors.Wrapf(err, "opening gpio chip %q", pin.devicePath)
	}
	defer goutils.UncheckedErrorFunc(chip.Close)

	line, err := chip.OpenLine(pin.offset, 0, flag, gpioConsumer)
	if err != nil {
		return errors.Wrapf(err, "claiming gpio line %d", pin.offset)
	}
	pin.line = line
	pin.mode = wantMode
	return nil
}

func (pin *gpioPin) setup(cfg board.PinConfig) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	switch cfg.Mode {
	case board.PinInput:
		// Pull resistors are not settable through this character device
		// interface; the line keeps the board's default bias.
		if cfg.Pull != "" && cfg.Pull != board.PullNone {
			pin.logger.Debugw("pull bias not configurable, relying on board default",
				"pin", pin.offset, "pull", cfg.Pull)
		}
		return pin.openLine(false)
	case board.PinOutput:
		if err := pin.openLine(true); err != nil {
			return err
		}
		pin.pwmRunning = false
		if cfg.InitialHigh != nil {
			return pin.setInternal(*cfg.InitialHigh)
		}
		return nil
	case board.PinPWM:
		if err := pin.openLine(true); err != nil {
			return err
		}
		pin.mode = board.PinPWM
		if cfg.PWMFreqHz > 0 {
			pin.pwmFreqHz = uint(cfg.PWMFreqHz)
		}
		return nil
	default:
		return errors.Errorf("pin mode %q not supported on this board", cfg.Mode)
	}
}

// setInternal writes the line level. Callers must hold the mutex.
func (pin *gpioPin) setInternal(isHigh bool) error {
	var value byte
	if isHigh {
		value = 1
	}
	return pin.line.SetValue(value)
}

func (pin *gpioPin) set(isHigh bool) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if err := pin.openLine(true); err != nil {
		return err
	}
	pin.pwmRunning = false
	return pin.setInternal(isHigh)
}

func (pin *gpioPin) get() (bool, error) {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if err := pin.openLine(false); err != nil {
		return false, err
	}
	value, err := pin.line.Value()
	if err != nil {
		return false, err
	}
	// Anything non-zero reads as high.
	return value != 0, nil
}

const defaultPWMFreqHz = 100

func (pin *gpioPin) setPWM(dutyCyclePct float64) error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	if err := pin.openLine(true); err != nil {
		return err
	}
	pin.mode = board.PinPWM
	if pin.pwmFreqHz == 0 {
		pin.pwmFreqHz = defaultPWMFreqHz
	}
	pin.pwmDutyCyclePct = dutyCyclePct
	return pin.startSoftwarePWM()
}

// startSoftwarePWM spins up the toggle loop if one is needed and not already
// running. Callers must hold the mutex.
func (pin *gpioPin) startSoftwarePWM() error {
	if pin.pwmDutyCyclePct == 0 || pin.pwmFreqHz == 0 {
		pin.pwmRunning = false
		return pin.setInternal(false)
	}
	if pin.pwmDutyCyclePct >= 1 {
		pin.pwmRunning = false
		return pin.setInternal(true)
	}
	if pin.pwmRunning {
		return nil
	}

	pin.pwmRunning = true
	pin.waitGroup.Add(1)
	goutils.ManagedGo(pin.softwarePwmLoop, pin.waitGroup.Done)
	return nil
}

// halfPwmCycle drives the pin for one half of the duty cycle and reports
// whether the loop should keep going.
func (pin *gpioPin) halfPwmCycle(shouldBeOn bool) bool {
	var dutyCycle float64
	var freqHz uint

	shouldContinue := func() bool {
		pin.mu.Lock()
		defer pin.mu.Unlock()
		if !pin.pwmRunning {
			return false
		}
		dutyCycle = pin.pwmDutyCyclePct
		freqHz = pin.pwmFreqHz

		// A failed toggle is logged, not fatal; the next half cycle gets
		// another chance.
		goutils.UncheckedErrorFunc(func() error { return pin.setInternal(shouldBeOn) })
		return true
	}()
	if !shouldContinue {
		return false
	}

	if !shouldBeOn {
		dutyCycle = 1 - dutyCycle
	}
	duration := time.Duration(float64(time.Second) * dutyCycle / float64(freqHz))
	return goutils.SelectContextOrWait(pin.cancelCtx, duration)
}

func (pin *gpioPin) softwarePwmLoop() {
	for {
		if !pin.halfPwmCycle(true) {
			return
		}
		if !pin.halfPwmCycle(false) {
			return
		}
	}
}

func (pin *gpioPin) close() error {
	pin.mu.Lock()
	defer pin.mu.Unlock()

	pin.pwmRunning = false
	if pin.line == nil {
		return nil
	}
	err := pin.line.Close()
	pin.line = nil
	return err
}
