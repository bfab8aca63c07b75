package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk  MessageType = "client_audio_chunk"
	TypeClientVisionFrame MessageType = "client_vision_frame"
	TypeClientMedia       MessageType = "client_media"
	TypeClientControl     MessageType = "client_control"
	TypeSessionState      MessageType = "session_state"
	TypeTranscriptUpdate  MessageType = "transcript_update"
	TypeAssistantAudio    MessageType = "assistant_audio_chunk"
	TypeAssistantTurnEnd  MessageType = "assistant_turn_end"
	TypeGestureSnapshot   MessageType = "gesture_snapshot"
	TypeGestureTrigger    MessageType = "gesture_trigger"
	TypeCountdownTick     MessageType = "countdown_tick"
	TypeSessionEnded      MessageType = "session_ended"
	TypeErrorEvent        MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Landmark is one normalized hand landmark as sent by the client's
// tracker. Coordinates are in the 0..1 image space.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientVisionFrame struct {
	Type        MessageType        `json:"type"`
	SessionID   string             `json:"session_id"`
	Blendshapes map[string]float64 `json:"blendshapes,omitempty"`
	Hands       [][]Landmark       `json:"hands,omitempty"`
	Unavailable bool               `json:"unavailable,omitempty"`
	TSMs        int64              `json:"ts_ms"`
}

// ClientMedia announces the outcome of the client's device acquisition.
// A session only goes active once a ready announce arrives.
type ClientMedia struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Ready     bool        `json:"ready"`
	Detail    string      `json:"detail,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type SessionState struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"session_id"`
	Status           string      `json:"status"`
	PersonaID        string      `json:"persona_id,omitempty"`
	RemainingSeconds int         `json:"remaining_seconds"`
}

type TranscriptUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate"`
	AudioBase64 string      `json:"audio_base64"`
	PlayAtMs    int64       `json:"play_at_ms"`
	DurationMs  int64       `json:"duration_ms"`
}

type AssistantTurnEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type GestureSnapshot struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Active    []string    `json:"active"`
}

type GestureTrigger struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	GestureID string      `json:"gesture_id"`
	Label     string      `json:"label"`
	Icon      string      `json:"icon"`
}

type CountdownTick struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"session_id"`
	RemainingSeconds int         `json:"remaining_seconds"`
}

type SessionEnded struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Reason    string      `json:"reason"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound websocket frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientVisionFrame:
		var msg ClientVisionFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_vision_frame")
		}
		return msg, nil
	case TypeClientMedia:
		var msg ClientMedia
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_media")
		}
		if !msg.Ready && msg.Detail == "" {
			return nil, errors.New("invalid client_media: failure without detail")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
