package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmacy/modul8r/models"
)

func TestCapturePreservesPublishOrder(t *testing.T) {
	c := NewCapture(CaptureOptions{MaxEntries: 10})

	for i := 0; i < 5; i++ {
		require.True(t, c.Publish(models.ProgressEvent("job", i+1, 5, 0)))
	}

	snap := c.Snapshot()
	require.Len(t, snap, 5)
	for i, ev := range snap {
		assert.Equal(t, i+1, ev.Payload["current_page"])
	}
}

func TestCaptureTrimsOldestBeyondMaxEntries(t *testing.T) {
	c := NewCapture(CaptureOptions{MaxEntries: 3})

	for i := 0; i < 6; i++ {
		c.Publish(models.ProgressEvent("job", i+1, 6, 0))
	}

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 4, snap[0].Payload["current_page"])
	assert.Equal(t, 6, snap[2].Payload["current_page"])
}

func TestCaptureEvictsByAge(t *testing.T) {
	c := NewCapture(CaptureOptions{MaxEntries: 10, MaxAge: time.Minute})

	old := models.StatusEvent("degraded", "old notice")
	old.Timestamp = time.Now().Add(-2 * time.Minute)
	c.Publish(old)
	c.Publish(models.StatusEvent("normal", "fresh notice"))

	evicted := c.EvictExpired(time.Now())
	assert.Equal(t, 1, evicted)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, "normal", c.Snapshot()[0].Payload["status"])
}

func TestCaptureDropsDuplicateWithinWindow(t *testing.T) {
	c := NewCapture(CaptureOptions{MaxEntries: 10, DedupWindow: time.Minute})

	assert.True(t, c.Publish(models.LogEvent("info", "connection established")))
	assert.False(t, c.Publish(models.LogEvent("info", "connection established")))
	assert.True(t, c.Publish(models.LogEvent("info", "a different message")))
	assert.Equal(t, 2, c.Len())
}

func TestCaptureAcceptsDuplicateAfterWindow(t *testing.T) {
	c := NewCapture(CaptureOptions{MaxEntries: 10, DedupWindow: 20 * time.Millisecond})

	assert.True(t, c.Publish(models.LogEvent("info", "repeated message")))
	time.Sleep(40 * time.Millisecond)
	assert.True(t, c.Publish(models.LogEvent("info", "repeated message")))
	assert.Equal(t, 2, c.Len())
}

func TestCaptureForwardsToSink(t *testing.T) {
	c := NewCapture(CaptureOptions{MaxEntries: 10, DedupWindow: time.Minute})

	var forwarded []models.Event
	c.SetSink(func(ev models.Event) { forwarded = append(forwarded, ev) })

	c.Publish(models.StatusEvent("normal", "hello"))
	c.Publish(models.StatusEvent("normal", "hello")) // duplicate, suppressed

	require.Len(t, forwarded, 1, "suppressed duplicates must not reach the sink")
	assert.Equal(t, models.EventStatus, forwarded[0].Kind)
}

func TestCaptureRecent(t *testing.T) {
	c := NewCapture(CaptureOptions{MaxEntries: 10})
	for i := 0; i < 5; i++ {
		c.Publish(models.ProgressEvent("job", i+1, 5, 0))
	}

	recent := c.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, 4, recent[0].Payload["current_page"])
	assert.Equal(t, 5, recent[1].Payload["current_page"])
}
