package live

import (
	"context"
	"fmt"
	"strings"
)

// SessionConfig is everything the live backend needs to open one argue
// session: the model, the persona prompt, and the prebuilt voice identity.
type SessionConfig struct {
	Model             string
	VoiceName         string
	SystemInstruction string
}

// Event is one inbound message from the live backend, normalized for the
// session controller. Fields are optional; a single backend message may
// carry several.
type Event struct {
	// Transcript is the latest output transcription. Replace, don't append.
	Transcript *string
	// TurnComplete marks the end of the assistant's speaking turn.
	TurnComplete bool
	// Audio is a raw PCM16 response chunk at the playback rate.
	Audio []byte
	// Err reports a backend failure. The event stream closes after a
	// terminal error.
	Err error
}

// Conn is an open live session handle.
type Conn interface {
	// SendAudio transmits one capture frame of raw PCM16 at the capture rate.
	SendAudio(ctx context.Context, pcm []byte) error
	// SendText injects a free-text system event into the conversation.
	SendText(ctx context.Context, text string) error
	// Close releases the session. Idempotent; safe when already closed.
	Close() error
}

// Adapter opens live sessions against a conversational AI backend. The
// returned channel carries inbound events until the session ends, then
// closes.
type Adapter interface {
	Open(ctx context.Context, cfg SessionConfig) (Conn, <-chan Event, error)
}

// Config controls adapter construction.
type Config struct {
	Mode              string
	APIKey            string
	CaptureSampleRate int
}

// NewAdapter picks the backend by mode: "gemini" requires an API key,
// "mock" is the scripted in-process backend, and "auto" selects gemini
// when a key is configured and falls back to mock otherwise.
func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewGeminiAdapter(cfg.APIKey, cfg.CaptureSampleRate), nil
		}
		return NewMockAdapter(), nil
	case "gemini":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("gemini adapter requires GEMINI_API_KEY")
		}
		return NewGeminiAdapter(cfg.APIKey, cfg.CaptureSampleRate), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported live adapter mode %q", cfg.Mode)
	}
}
