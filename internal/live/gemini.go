package live

import (
	"context"
	"fmt"
	"log"
	"sync"

	"google.golang.org/genai"
)

// GeminiAdapter opens native-audio sessions against the Gemini Live API.
type GeminiAdapter struct {
	apiKey      string
	captureRate int
}

func NewGeminiAdapter(apiKey string, captureRate int) *GeminiAdapter {
	if captureRate <= 0 {
		captureRate = 16000
	}
	return &GeminiAdapter{apiKey: apiKey, captureRate: captureRate}
}

func (a *GeminiAdapter) Open(ctx context.Context, cfg SessionConfig) (Conn, <-chan Event, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  a.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gemini client: %w", err)
	}

	session, err := client.Live.Connect(ctx, cfg.Model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.VoiceName},
			},
		},
		SystemInstruction:        &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemInstruction}}},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gemini live connect: %w", err)
	}

	conn := &geminiConn{
		session:     session,
		captureRate: a.captureRate,
	}
	events := make(chan Event, 64)
	go conn.receiveLoop(events)
	return conn, events, nil
}

type geminiConn struct {
	session     *genai.Session
	captureRate int
	closeOnce   sync.Once
	closeErr    error
}

func (c *geminiConn) receiveLoop(events chan<- Event) {
	defer close(events)
	for {
		msg, err := c.session.Receive()
		if err != nil {
			// The stream ends on Close as well; surface only real failures.
			select {
			case events <- Event{Err: err}:
			default:
			}
			return
		}
		sc := msg.ServerContent
		if sc == nil {
			continue
		}
		if sc.OutputTranscription != nil {
			text := sc.OutputTranscription.Text
			events <- Event{Transcript: &text}
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					events <- Event{Audio: part.InlineData.Data}
				}
			}
		}
		if sc.TurnComplete {
			events <- Event{TurnComplete: true}
		}
	}
}

func (c *geminiConn) SendAudio(_ context.Context, pcm []byte) error {
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			Data:     pcm,
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", c.captureRate),
		},
	})
}

func (c *geminiConn) SendText(_ context.Context, text string) error {
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{Text: text})
}

func (c *geminiConn) Close() error {
	c.closeOnce.Do(func() {
		if err := c.session.Close(); err != nil {
			log.Printf("gemini live close: %v", err)
			c.closeErr = err
		}
	})
	return c.closeErr
}
