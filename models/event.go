package models

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// EventKind discriminates telemetry events.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventStatus   EventKind = "status"
	EventLog      EventKind = "log"
)

// Essential reports whether events of this kind must survive degraded mode.
// Progress and status keep flowing when the circuit breaker sheds load;
// verbose log entries do not.
func (k EventKind) Essential() bool {
	return k == EventProgress || k == EventStatus
}

// Event is a structured telemetry record destined for observers. Immutable
// once created.
type Event struct {
	Kind      EventKind      `json:"kind"`
	JobID     string         `json:"job_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Hash      string         `json:"-"`
}

// NewEvent builds an event and stamps it with the current time and a
// content hash. The hash covers kind, job id and payload but not the
// timestamp, so two logically identical events hash the same.
func NewEvent(kind EventKind, jobID string, payload map[string]any) Event {
	return Event{
		Kind:      kind,
		JobID:     jobID,
		Payload:   payload,
		Timestamp: time.Now(),
		Hash:      contentHash(kind, jobID, payload),
	}
}

// ProgressEvent builds the progress event emitted once per page resolution.
// A non-positive etaSeconds is omitted from the payload.
func ProgressEvent(jobID string, currentPage, totalPages int, etaSeconds float64) Event {
	pct := 0.0
	if totalPages > 0 {
		pct = float64(currentPage) / float64(totalPages) * 100
	}
	payload := map[string]any{
		"current_page":        currentPage,
		"total_pages":         totalPages,
		"progress_percentage": pct,
	}
	if etaSeconds > 0 {
		payload["eta_seconds"] = etaSeconds
	}
	return NewEvent(EventProgress, jobID, payload)
}

// StatusEvent builds a status event, used for breaker and lag notices.
func StatusEvent(status, message string) Event {
	return NewEvent(EventStatus, "", map[string]any{
		"status":  status,
		"message": message,
	})
}

// LogEvent builds a log-kind event from a captured log record.
func LogEvent(level, message string) Event {
	return NewEvent(EventLog, "", map[string]any{
		"level": level,
		"event": message,
	})
}

// Entry flattens the event into the shape carried by log_history frames.
func (e Event) Entry() map[string]any {
	entry := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		entry[k] = v
	}
	entry["kind"] = string(e.Kind)
	entry["timestamp"] = e.Timestamp.Format(time.RFC3339)
	if e.JobID != "" {
		entry["job_id"] = e.JobID
	}
	return entry
}

func contentHash(kind EventKind, jobID string, payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := md5.New()
	fmt.Fprintf(h, "%s|%s", kind, jobID)
	for _, k := range keys {
		v, err := json.Marshal(payload[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", payload[k]))
		}
		fmt.Fprintf(h, "|%s=%s", k, v)
	}
	return hex.EncodeToString(h.Sum(nil))
}
