// Package realtime speaks the upstream speech provider's realtime channel:
// it decodes the tagged JSON event stream into a small closed set of
// canonical event kinds and owns the websocket client used to drive a call.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind is the canonical classification of one inbound realtime event.
type EventKind int

const (
	// Unrecognized carries events whose tag matched nothing known and whose
	// payload had no usable text. The raw payload is preserved for debugging.
	Unrecognized EventKind = iota
	UserDelta
	UserFinal
	SantaDelta
	SantaFinal
	ErrorEvent
)

func (k EventKind) String() string {
	switch k {
	case UserDelta:
		return "user_delta"
	case UserFinal:
		return "user_final"
	case SantaDelta:
		return "santa_delta"
	case SantaFinal:
		return "santa_final"
	case ErrorEvent:
		return "error"
	default:
		return "unrecognized"
	}
}

// Event is one normalized inbound realtime event. Text holds the delta
// fragment for partial events and the completed transcript (when the wire
// carried one) for final events; final events may legitimately have empty
// Text, in which case the accumulator falls back to its pending buffer.
type Event struct {
	Kind EventKind
	Type string // original wire tag
	Text string
	Raw  json.RawMessage
}

// wireEvent covers every payload field we care about across the historical
// shapes of the upstream API. The provider has renamed both the event tags
// and the text-bearing fields over time.
type wireEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

// canonicalKinds maps every known wire tag, current and historical, to one
// canonical kind. New spellings get added here, never matched ad hoc at call
// sites.
var canonicalKinds = map[string]EventKind{
	"input_audio_buffer.transcription.delta":                UserDelta,
	"conversation.item.input_audio_transcription.delta":     UserDelta,
	"input_audio_buffer.transcription.completed":            UserFinal,
	"conversation.item.input_audio_transcription.completed": UserFinal,
	"response.output_text.delta":                            SantaDelta,
	"response.text.delta":                                   SantaDelta,
	"response.audio_transcript.delta":                       SantaDelta,
	"response.completed":                                    SantaFinal,
	"response.done":                                         SantaFinal,
	"response.audio_transcript.done":                        SantaFinal,
	"response.error":                                        ErrorEvent,
	"error":                                                 ErrorEvent,
}

// DecodeEvent normalizes one raw inbound message. Malformed JSON returns an
// error; callers log it at debug and drop the message, never surfacing it to
// the caller-facing path. Decoding has no side effects on call state.
func DecodeEvent(raw []byte) (Event, error) {
	var we wireEvent
	if err := json.Unmarshal(raw, &we); err != nil {
		return Event{}, fmt.Errorf("malformed realtime event: %w", err)
	}
	if we.Type == "" {
		return Event{}, fmt.Errorf("realtime event without type tag")
	}

	evt := Event{Type: we.Type, Raw: append(json.RawMessage(nil), raw...)}

	if kind, ok := canonicalKinds[we.Type]; ok {
		evt.Kind = kind
		switch kind {
		case UserDelta, SantaDelta:
			evt.Text = firstNonEmpty(we.Delta, we.Text)
		case UserFinal, SantaFinal:
			evt.Text = firstNonEmpty(we.Transcript, we.Text)
		}
		return evt, nil
	}

	// Compatibility shim for tags we have never seen: if the payload carries
	// text, infer direction and partial/final from the tag itself. This is
	// best-effort only.
	text := firstNonEmpty(we.Transcript, we.Text, we.Delta)
	if text == "" {
		return evt, nil // Unrecognized, raw preserved
	}
	lower := strings.ToLower(we.Type)
	userish := strings.Contains(lower, "input") || strings.Contains(lower, "transcription")
	santaish := strings.Contains(lower, "response") || strings.Contains(lower, "output")
	if !userish && !santaish {
		return evt, nil
	}
	partial := strings.HasSuffix(lower, ".delta") || strings.Contains(lower, "delta")
	switch {
	case userish && partial:
		evt.Kind = UserDelta
	case userish:
		evt.Kind = UserFinal
	case partial:
		evt.Kind = SantaDelta
	default:
		evt.Kind = SantaFinal
	}
	evt.Text = text
	return evt, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
