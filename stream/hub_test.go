package stream

import (
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/sensord-io/sensord/sensor"
)

func TestHubDelivery(t *testing.T) {
	logger := golog.NewTestLogger(t)
	h := NewHub(logger)
	defer h.Close()

	ch := make(chan Message, 4)
	test.That(t, h.Subscribe("sess-1", "sub-a", ch), test.ShouldBeNil)
	test.That(t, h.SubscriberCount("sess-1"), test.ShouldEqual, 1)

	h.PublishReadings("sess-1", []sensor.Reading{
		{EntityID: "temperature", Value: 21.4, Quality: 1},
	})

	msg := <-ch
	test.That(t, msg.Type, test.ShouldEqual, MessageReadings)
	test.That(t, msg.SessionID, test.ShouldEqual, "sess-1")
	test.That(t, msg.Timestamp.IsZero(), test.ShouldBeFalse)
	test.That(t, msg.Readings, test.ShouldHaveLength, 1)
	test.That(t, msg.Readings[0].EntityID, test.ShouldEqual, "temperature")

	h.PublishStatus("sess-1", "running", map[string]interface{}{"reads": 3})
	msg = <-ch
	test.That(t, msg.Type, test.ShouldEqual, MessageStatus)
	test.That(t, msg.Status, test.ShouldEqual, "running")
	test.That(t, msg.Metadata["reads"], test.ShouldEqual, 3)

	h.PublishError("sess-1", "sensor went away", nil)
	msg = <-ch
	test.That(t, msg.Type, test.ShouldEqual, MessageError)
	test.That(t, msg.Error, test.ShouldEqual, "sensor went away")
}

func TestHubSessionIsolation(t *testing.T) {
	logger := golog.NewTestLogger(t)
	h := NewHub(logger)
	defer h.Close()

	ch1 := make(chan Message, 4)
	ch2 := make(chan Message, 4)
	test.That(t, h.Subscribe("sess-1", "sub-a", ch1), test.ShouldBeNil)
	test.That(t, h.Subscribe("sess-2", "sub-b", ch2), test.ShouldBeNil)

	h.PublishStatus("sess-1", "running", nil)

	msg := <-ch1
	test.That(t, msg.SessionID, test.ShouldEqual, "sess-1")
	test.That(t, len(ch2), test.ShouldEqual, 0)
}

func TestHubSubscribeIdempotent(t *testing.T) {
	logger := golog.NewTestLogger(t)
	h := NewHub(logger)
	defer h.Close()

	old := make(chan Message, 1)
	replacement := make(chan Message, 1)
	test.That(t, h.Subscribe("sess-1", "sub-a", old), test.ShouldBeNil)
	test.That(t, h.Subscribe("sess-1", "sub-a", replacement), test.ShouldBeNil)
	test.That(t, h.SubscriberCount("sess-1"), test.ShouldEqual, 1)

	h.PublishStatus("sess-1", "running", nil)
	test.That(t, len(old), test.ShouldEqual, 0)
	test.That(t, len(replacement), test.ShouldEqual, 1)

	test.That(t, h.Subscribe("sess-1", "sub-a", nil), test.ShouldNotBeNil)
}

func TestHubUnsubscribe(t *testing.T) {
	logger := golog.NewTestLogger(t)
	h := NewHub(logger)
	defer h.Close()

	ch := make(chan Message, 1)
	test.That(t, h.Subscribe("sess-1", "sub-a", ch), test.ShouldBeNil)

	// unknown handles are a no-op
	h.Unsubscribe("sess-1", "sub-z")
	h.Unsubscribe("no-such-session", "sub-a")
	test.That(t, h.SubscriberCount("sess-1"), test.ShouldEqual, 1)

	h.Unsubscribe("sess-1", "sub-a")
	test.That(t, h.SubscriberCount("sess-1"), test.ShouldEqual, 0)

	// publishing to a session with no subscribers is fine
	h.PublishStatus("sess-1", "running", nil)
	test.That(t, len(ch), test.ShouldEqual, 0)
}

func TestHubSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	logger := golog.NewTestLogger(t)
	h := NewHub(logger)
	defer h.Close()

	stuck := make(chan Message, 1)
	stuck <- Message{} // already full, every send will drop
	healthy := make(chan Message, 8)
	test.That(t, h.Subscribe("sess-1", "stuck", stuck), test.ShouldBeNil)
	test.That(t, h.Subscribe("sess-1", "healthy", healthy), test.ShouldBeNil)

	for i := 0; i < 3; i++ {
		h.PublishStatus("sess-1", "running", nil)
	}
	test.That(t, len(healthy), test.ShouldEqual, 3)

	stats := h.Stats()
	test.That(t, stats.TotalPublished, test.ShouldEqual, uint64(3))
	test.That(t, stats.TotalDelivered, test.ShouldEqual, uint64(3))
	test.That(t, stats.TotalDropped, test.ShouldEqual, uint64(3))
}

func TestHubEvictsUnresponsiveSubscriber(t *testing.T) {
	logger := golog.NewTestLogger(t)
	h := NewHub(logger)
	defer h.Close()

	stuck := make(chan Message, 1)
	stuck <- Message{}
	test.That(t, h.Subscribe("sess-1", "stuck", stuck), test.ShouldBeNil)

	for i := 0; i < subscriberDropLimit; i++ {
		h.PublishStatus("sess-1", "running", nil)
	}
	test.That(t, h.SubscriberCount("sess-1"), test.ShouldEqual, 0)

	// a delivery in between resets the failure streak
	test.That(t, h.Subscribe("sess-1", "flaky", stuck), test.ShouldBeNil)
	for i := 0; i < subscriberDropLimit-1; i++ {
		h.PublishStatus("sess-1", "running", nil)
	}
	<-stuck // drain so the next send lands
	h.PublishStatus("sess-1", "running", nil)
	for i := 0; i < subscriberDropLimit-1; i++ {
		h.PublishStatus("sess-1", "running", nil)
	}
	test.That(t, h.SubscriberCount("sess-1"), test.ShouldEqual, 1)
}

func TestHubClose(t *testing.T) {
	logger := golog.NewTestLogger(t)
	h := NewHub(logger)

	ch := make(chan Message, 1)
	test.That(t, h.Subscribe("sess-1", "sub-a", ch), test.ShouldBeNil)

	h.Close()
	h.Close() // idempotent

	// late publishes during shutdown are discarded, not a panic
	h.PublishStatus("sess-1", "running", nil)
	test.That(t, len(ch), test.ShouldEqual, 0)

	err := h.Subscribe("sess-1", "sub-b", ch)
	test.That(t, err, test.ShouldBeError, ErrHubClosed)
}
