package dht22

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/sensord-io/sensord/board"
)

// Single-wire timing. A zero bit holds the line high for about 27us, a one
// bit for about 70us; anything past the threshold reads as a one.
const (
	oneBitThreshold = 50 * time.Microsecond
	frameDeadline   = 10 * time.Millisecond
)

// handshake runs one exchange on the data pin: pull the line low to ask for
// a frame, release it, then time the 40 high pulses the chip answers with.
// Pulse timing from userspace is at the mercy of the scheduler, so a checksum
// mismatch or a short frame is an expected transient, not a fault.
func (s *Sensor) handshake(ctx context.Context) (temperature, humidity float64, err error) {
	if err := s.b.SetupPin(ctx, board.PinConfig{Pin: s.pin, Mode: board.PinOutput}); err != nil {
		return 0, 0, errors.Wrap(err, "claiming data pin")
	}
	if err := s.b.WriteDigital(ctx, s.pin, false); err != nil {
		return 0, 0, errors.Wrap(err, "sending start signal")
	}

	// The DHT11 wants a much longer start pulse than the DHT22.
	startLow := 2 * time.Millisecond
	if s.model == ModelDHT11 {
		startLow = 18 * time.Millisecond
	}
	time.Sleep(startLow)

	if err := s.b.SetupPin(ctx, board.PinConfig{
		Pin: s.pin, Mode: board.PinInput, Pull: board.PullUp,
	}); err != nil {
		return 0, 0, errors.Wrap(err, "releasing data pin")
	}

	highs, err := s.timeHighPulses(ctx)
	if err != nil {
		return 0, 0, err
	}
	// The frame opens with the chip's response preamble; the data bits are
	// the last 40 high pulses.
	if len(highs) < 40 {
		return 0, 0, errors.Errorf("incomplete frame: %d pulses", len(highs))
	}
	bits := highs[len(highs)-40:]

	var data [5]byte
	for i, width := range bits {
		data[i/8] <<= 1
		if width > oneBitThreshold {
			data[i/8] |= 1
		}
	}
	if sum := data[0] + data[1] + data[2] + data[3]; sum != data[4] {
		return 0, 0, errors.Errorf("checksum mismatch: computed 0x%02x, frame says 0x%02x", sum, data[4])
	}

	if s.model == ModelDHT11 {
		return float64(data[2]), float64(data[0]), nil
	}
	humidity = float64(uint16(data[0])<<8|uint16(data[1])) / 10
	temperature = float64(uint16(data[2]&0x7f)<<8|uint16(data[3])) / 10
	if data[2]&0x80 != 0 {
		temperature = -temperature
	}
	return temperature, humidity, nil
}

// timeHighPulses spins on the pin until the frame completes or the deadline
// passes, recording how long each high period lasted.
func (s *Sensor) timeHighPulses(ctx context.Context) ([]time.Duration, error) {
	last, err := s.b.ReadDigital(ctx, s.pin)
	if err != nil {
		return nil, errors.Wrap(err, "sampling data pin")
	}

	var highs []time.Duration
	lastChange := time.Now()
	deadline := lastChange.Add(frameDeadline)

	// 43 = response preamble plus 40 data bits.
	for time.Now().Before(deadline) && len(highs) < 43 {
		level, err := s.b.ReadDigital(ctx, s.pin)
		if err != nil {
			return nil, errors.Wrap(err, "sampling data pin")
		}
		if level == last {
			continue
		}
		if last {
			highs = append(highs, time.Since(lastChange))
		}
		last = level
		lastChange = time.Now()
	}
	return highs, nil
}
