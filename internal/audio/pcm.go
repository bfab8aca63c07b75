package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyChunk     = errors.New("empty audio chunk")
	ErrOddLengthChunk = errors.New("pcm16 chunk has odd byte length")
)

// DecodeBase64PCM16 decodes a base64 payload into raw little-endian PCM16
// bytes and validates its framing. Callers treat a failure as isolated to
// the one chunk; it must never tear down the session.
func DecodeBase64PCM16(payload string) ([]byte, error) {
	if payload == "" {
		return nil, ErrEmptyChunk
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode pcm16 chunk: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyChunk
	}
	if len(raw)%2 != 0 {
		return nil, ErrOddLengthChunk
	}
	return raw, nil
}

// EncodeBase64PCM16 is the send-path counterpart.
func EncodeBase64PCM16(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// Duration returns the playback duration of mono PCM16 bytes at the given
// sample rate.
func Duration(raw []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 || len(raw) == 0 {
		return 0
	}
	samples := len(raw) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
