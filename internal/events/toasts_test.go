package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

func TestToastInboxDrainsPerJourney(t *testing.T) {
	bus := NewBus(logging.Discard())
	inbox := NewToastInbox(bus)
	defer inbox.Close()

	bus.Publish(TopicToast, Toast{JourneyID: "j-1", Level: ToastError, Message: "first", Retryable: true})
	bus.Publish(TopicToast, Toast{JourneyID: "j-2", Level: ToastInfo, Message: "other"})
	bus.Publish(TopicToast, Toast{Level: ToastInfo, Message: "nobody"})
	bus.Publish(TopicToast, Toast{JourneyID: "j-1", Level: ToastError, Message: "second"})

	got := inbox.Drain("j-1")
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Message)
	assert.True(t, got[0].Retryable)
	assert.Equal(t, "second", got[1].Message)
	assert.Empty(t, inbox.Drain("j-1"))

	assert.Len(t, inbox.Drain("j-2"), 1)
	assert.Nil(t, inbox.Drain(""))
}

func TestToastInboxKeepsNewestAndExpires(t *testing.T) {
	bus := NewBus(logging.Discard())
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return now }
	inbox := NewToastInbox(bus)
	inbox.now = func() time.Time { return now }
	defer inbox.Close()

	for _, msg := range []string{"a", "b", "c", "d", "e", "f"} {
		bus.Publish(TopicToast, Toast{JourneyID: "j-1", Message: msg})
	}
	got := inbox.Drain("j-1")
	require.Len(t, got, maxPendingToasts)
	assert.Equal(t, "c", got[0].Message)
	assert.Equal(t, "f", got[len(got)-1].Message)

	bus.Publish(TopicToast, Toast{JourneyID: "j-1", Message: "stale"})
	inbox.now = func() time.Time { return now.Add(toastTTL) }
	assert.Empty(t, inbox.Drain("j-1"))
}

func TestToastInboxAfterClose(t *testing.T) {
	var nilInbox *ToastInbox
	assert.Nil(t, nilInbox.Drain("j-1"))

	bus := NewBus(logging.Discard())
	inbox := NewToastInbox(bus)
	inbox.Close()
	assert.Equal(t, 0, bus.Publish(TopicToast, Toast{JourneyID: "j-1"}))
	assert.Empty(t, inbox.Drain("j-1"))
}
