package models

import "time"

// Envelope message types pushed to websocket subscribers.
const (
	TypeLogEntry   = "log_entry"
	TypeProgress   = "progress_update"
	TypeStatus     = "status_update"
	TypeLogHistory = "log_history"
	TypePong       = "pong"
)

// Envelope is the JSON frame sent over the telemetry channel. Only the
// fields for the given type are populated.
type Envelope struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`

	// log_entry
	Log map[string]any `json:"log,omitempty"`

	// log_history
	Logs []map[string]any `json:"logs,omitempty"`

	// progress_update
	CurrentPage        *int     `json:"current_page,omitempty"`
	TotalPages         *int     `json:"total_pages,omitempty"`
	ProgressPercentage *float64 `json:"progress_percentage,omitempty"`
	ETASeconds         *float64 `json:"eta_seconds,omitempty"`

	// status_update
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

func newEnvelope(typ string, at time.Time) Envelope {
	return Envelope{Type: typ, Timestamp: at.Format(time.RFC3339)}
}

// PongEnvelope is the liveness reply to a subscriber ping.
func PongEnvelope() Envelope {
	return newEnvelope(TypePong, time.Now())
}

// HistoryEnvelope carries the event buffer snapshot delivered on subscribe.
func HistoryEnvelope(events []Event) Envelope {
	env := newEnvelope(TypeLogHistory, time.Now())
	env.Logs = make([]map[string]any, 0, len(events))
	for _, ev := range events {
		env.Logs = append(env.Logs, ev.Entry())
	}
	return env
}

// EnvelopeFromEvent converts a bus event into its subscriber-facing frame.
func EnvelopeFromEvent(ev Event) Envelope {
	switch ev.Kind {
	case EventProgress:
		env := newEnvelope(TypeProgress, ev.Timestamp)
		if v, ok := asInt(ev.Payload["current_page"]); ok {
			env.CurrentPage = &v
		}
		if v, ok := asInt(ev.Payload["total_pages"]); ok {
			env.TotalPages = &v
		}
		if v, ok := ev.Payload["progress_percentage"].(float64); ok {
			env.ProgressPercentage = &v
		}
		if v, ok := ev.Payload["eta_seconds"].(float64); ok {
			env.ETASeconds = &v
		}
		return env
	case EventStatus:
		env := newEnvelope(TypeStatus, ev.Timestamp)
		env.Status, _ = ev.Payload["status"].(string)
		env.Message, _ = ev.Payload["message"].(string)
		return env
	default:
		env := newEnvelope(TypeLogEntry, ev.Timestamp)
		env.Log = ev.Entry()
		return env
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
