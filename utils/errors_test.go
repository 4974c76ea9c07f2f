package utils

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestNotFoundErrors(t *testing.T) {
	err := NewSensorNotFoundError("room")
	test.That(t, err.Error(), test.ShouldEqual, `sensor "room" not found`)
	test.That(t, IsNotFoundError(err), test.ShouldBeTrue)
	test.That(t, IsConflictError(err), test.ShouldBeFalse)

	err = NewSessionNotFoundError("s1")
	test.That(t, err.Error(), test.ShouldContainSubstring, "session")
	test.That(t, IsNotFoundError(err), test.ShouldBeTrue)

	err = NewDriverNotFoundError("dht22")
	test.That(t, IsNotFoundError(err), test.ShouldBeTrue)

	// classification survives wrapping
	err = errors.Wrap(NewSensorNotFoundError("room"), "cannot read")
	test.That(t, IsNotFoundError(err), test.ShouldBeTrue)

	test.That(t, IsNotFoundError(errors.New("boom")), test.ShouldBeFalse)
	test.That(t, IsNotFoundError(nil), test.ShouldBeFalse)
}

func TestConflictErrors(t *testing.T) {
	err := NewDuplicateSensorError("room")
	test.That(t, err.Error(), test.ShouldEqual, `sensor "room" already exists`)
	test.That(t, IsConflictError(err), test.ShouldBeTrue)
	test.That(t, IsNotFoundError(err), test.ShouldBeFalse)

	err = errors.Wrap(NewDuplicateSessionError("s1"), "start")
	test.That(t, IsConflictError(err), test.ShouldBeTrue)
}

func TestUnsupportedErrors(t *testing.T) {
	err := NewUnsupportedError("analog input", "gpio-board")
	test.That(t, err.Error(), test.ShouldEqual, `analog input not supported on "gpio-board"`)
	test.That(t, IsUnsupportedError(err), test.ShouldBeTrue)
	test.That(t, IsUnsupportedError(errors.New("other")), test.ShouldBeFalse)
}
