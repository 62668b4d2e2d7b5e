package telnyx

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/paperline/sales-voice-service/internal/core/event"
	"github.com/paperline/sales-voice-service/internal/domain"
)

// WebhookEnvelope is the Telnyx webhook wire format
type WebhookEnvelope struct {
	Data struct {
		EventType  string    `json:"event_type"`
		ID         string    `json:"id"`
		OccurredAt time.Time `json:"occurred_at"`
		Payload    struct {
			CallControlID string   `json:"call_control_id"`
			From          string   `json:"from"`
			To            string   `json:"to"`
			Direction     string   `json:"direction"`
			Digits        string   `json:"digits"`
			HangupCause   string   `json:"hangup_cause"`
			RecordingURLs struct {
				MP3 string `json:"mp3"`
				WAV string `json:"wav"`
			} `json:"recording_urls"`
		} `json:"payload"`
	} `json:"data"`
}

// ErrMalformedWebhook is returned when a delivery cannot be normalized.
var ErrMalformedWebhook = errors.New("malformed webhook payload")

// ParseWebhook normalizes a raw Telnyx delivery into a CallEvent.
// A missing call control ID is a hard reject; an unrecognized event
// type is passed through so the caller can ignore it.
func ParseWebhook(body []byte) (event.CallEvent, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return event.CallEvent{}, ErrMalformedWebhook
	}
	if env.Data.EventType == "" || env.Data.Payload.CallControlID == "" {
		return event.CallEvent{}, ErrMalformedWebhook
	}

	ev := event.CallEvent{
		CallID:      env.Data.Payload.CallControlID,
		Type:        event.Type(env.Data.EventType),
		Timestamp:   env.Data.OccurredAt,
		From:        env.Data.Payload.From,
		To:          env.Data.Payload.To,
		Digits:      env.Data.Payload.Digits,
		HangupCause: env.Data.Payload.HangupCause,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	switch env.Data.Payload.Direction {
	case "incoming", "inbound":
		ev.Direction = domain.DirectionInbound
	default:
		ev.Direction = domain.DirectionOutbound
	}
	if url := env.Data.Payload.RecordingURLs.MP3; url != "" {
		ev.RecordingURL = url
	} else if url := env.Data.Payload.RecordingURLs.WAV; url != "" {
		ev.RecordingURL = url
	}
	return ev, nil
}

// KnownEventType reports whether the normalized type is one the
// orchestrator reacts to. Unknown types are accepted and ignored.
func KnownEventType(t event.Type) bool {
	switch t {
	case event.TypeCallInitiated, event.TypeCallAnswered, event.TypeCallHangup,
		event.TypeGatherEnded, event.TypeSpeakEnded, event.TypeRecordingSaved:
		return true
	}
	return false
}
