// Package session wires credential refresh, text-turn dispatch and
// transcript forwarding on top of the transport and track manager.
package session

import "encoding/json"

// MessageType is the closed set of control-channel wire discriminators.
type MessageType string

const (
	MsgSessionUpdate          MessageType = "session.update"
	MsgConversationItemCreate MessageType = "conversation.item.create"
	MsgResponseCreate         MessageType = "response.create"
	MsgResponseCreated        MessageType = "response.created"
	MsgResponseDone           MessageType = "response.done"
	MsgResponseInterrupted    MessageType = "response.interrupted"
	MsgAudioDelta             MessageType = "response.audio.delta"
	MsgAudioDone              MessageType = "response.audio.done"
	MsgTextDelta              MessageType = "response.text.delta"
	MsgTextDone               MessageType = "response.text.done"
	MsgSpeechStarted          MessageType = "input_audio_buffer.speech_started"
	MsgSpeechStopped          MessageType = "input_audio_buffer.speech_stopped"
	MsgError                  MessageType = "error"
)

// envelope is the part of every wire message the session reads: the type
// discriminator and an optional correlating response identifier. Payloads
// stay opaque beyond that.
type envelope struct {
	Type       MessageType     `json:"type"`
	EventID    string          `json:"event_id,omitempty"`
	ResponseID string          `json:"response_id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
}

// responseRef extracts an id from a nested response object when the
// top-level response_id is absent.
type responseRef struct {
	ID string `json:"id,omitempty"`
}

func (e *envelope) responseID() string {
	if e.ResponseID != "" {
		return e.ResponseID
	}
	if len(e.Response) > 0 {
		var ref responseRef
		if err := json.Unmarshal(e.Response, &ref); err == nil {
			return ref.ID
		}
	}
	return ""
}

type sessionUpdate struct {
	Type    MessageType   `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type conversationItemCreate struct {
	Type MessageType      `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responseCreate struct {
	Type MessageType `json:"type"`
}
