package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType discriminates outbound events pushed to the host layer.
type EventType string

const (
	EventConnectionStateChanged EventType = "connection-state-changed"
	EventAudioTrackAdded        EventType = "audio-track-added"
	EventAudioTrackRemoved      EventType = "audio-track-removed"
	EventDataChannelMessage     EventType = "data-channel-message"
	EventDataChannelState       EventType = "data-channel-state-changed"
	EventConnectionQuality      EventType = "connection-quality-changed"
	EventConnectionDiagnostics  EventType = "connection-diagnostics"
	EventReconnectAttempt       EventType = "reconnect-attempt"
	EventReconnectSucceeded     EventType = "reconnect-succeeded"
	EventReconnectFailed        EventType = "reconnect-failed"
	EventTranscriptDelta        EventType = "transcript-delta"
	EventTranscriptDone         EventType = "transcript-done"
)

// Event is one outbound notification. Payload is one of the *Payload
// structs below, keyed by Type.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

type StatePayload struct {
	State    string `json:"state"`
	Previous string `json:"previous,omitempty"`
}

type TrackPayload struct {
	TrackID string `json:"track_id"`
	Local   bool   `json:"local"`
}

type ChannelStatePayload struct {
	State    string `json:"state"`
	Fallback bool   `json:"fallback"`
	Queued   int    `json:"queued"`
}

type QualityPayload struct {
	Previous Quality `json:"previous"`
	Current  Quality `json:"current"`
}

// NegotiationReport carries SDP exchange timing for diagnostics.
type NegotiationReport struct {
	Elapsed  time.Duration `json:"elapsed_ms"`
	TimedOut bool          `json:"timed_out"`
}

type DiagnosticsPayload struct {
	Stats       ConnectionStats    `json:"stats"`
	Negotiation *NegotiationReport `json:"negotiation,omitempty"`
}

type ReconnectPayload struct {
	Strategy string `json:"strategy"`
	Attempt  int    `json:"attempt"`
	Max      int    `json:"max_attempts"`
	Error    string `json:"error,omitempty"`
}

type MessagePayload struct {
	Raw []byte `json:"raw"`
}

type TranscriptPayload struct {
	ResponseID string `json:"response_id,omitempty"`
	Text       string `json:"text,omitempty"`
	Audio      bool   `json:"audio"`
	Final      bool   `json:"final"`
}

// Bus is a small publish/subscribe fan-out. Each subscriber invocation is
// isolated: a panicking subscriber is logged and the remaining subscribers
// still receive the event. Publish never fails.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns an unsubscribe func.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers ev to all current subscribers in-line.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	snapshot := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		snapshot = append(snapshot, fn)
	}
	b.mu.RUnlock()

	for _, fn := range snapshot {
		b.dispatch(fn, ev)
	}
}

func (b *Bus) dispatch(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "core.bus").Str("event", string(ev.Type)).Any("panic", r).Msg("subscriber panicked")
		}
	}()
	fn(ev)
}

// Emit is shorthand for Publish with a typed payload.
func (b *Bus) Emit(t EventType, payload any) {
	b.Publish(Event{Type: t, Payload: payload})
}
