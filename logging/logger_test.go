package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmacy/modul8r/models"
)

func TestLoggerMirrorsRecordsIntoCapture(t *testing.T) {
	capture := NewCapture(CaptureOptions{MaxEntries: 10})
	var buf bytes.Buffer
	log := New(Options{Level: "info", Output: &buf}, capture)

	log.Info().Str("job_id", "j1").Msg("page converted")

	events := capture.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventLog, events[0].Kind)
	assert.Equal(t, "info", events[0].Payload["level"])
	assert.Equal(t, "page converted", events[0].Payload["event"])

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "modul8r", record["service"])
	assert.Equal(t, "page converted", record["message"])
}

func TestLoggerLevelFiltersCapture(t *testing.T) {
	capture := NewCapture(CaptureOptions{MaxEntries: 10})
	var buf bytes.Buffer
	log := New(Options{Level: "warn", Output: &buf}, capture)

	log.Debug().Msg("too quiet")
	log.Info().Msg("still too quiet")
	log.Error().Msg("loud enough")

	events := capture.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Payload["level"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("debug").String())
	assert.Equal(t, "warn", parseLevel("WARNING").String())
	assert.Equal(t, "error", parseLevel("error").String())
	assert.Equal(t, "info", parseLevel("unknown").String())
}
