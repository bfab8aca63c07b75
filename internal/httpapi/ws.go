package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/milleriumage/drarena/internal/arena"
	"github.com/milleriumage/drarena/internal/gesture"
	"github.com/milleriumage/drarena/internal/protocol"
)

// handleSessionWS attaches a websocket to a connecting session and runs
// the controller until either side goes away. Writes stay
// single-threaded through the outbound channel; a saturated queue drops
// the message rather than blocking the controller.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	sess, err := s.sessions.Attach(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound_dropped", string(t)).Inc()
			}
		}
	}

	controller := arena.NewController(arena.ControllerConfig{
		Session:            sess,
		Manager:            s.sessions,
		Adapter:            s.adapter,
		Model:              s.cfg.LiveModel,
		GestureCooldown:    s.cfg.GestureCooldown,
		AnnounceTimeout:    s.cfg.ConnectTimeout,
		CaptureSampleRate:  s.cfg.CaptureSampleRate,
		PlaybackSampleRate: s.cfg.PlaybackSampleRate,
		Metrics:            s.metrics,
		Send:               send,
		OnCleanup: func(string) {
			// Give the writer a moment to flush session_ended, then drop
			// the connection.
			go func() {
				time.Sleep(100 * time.Millisecond)
				cancel()
			}()
		},
	})
	defer controller.Cleanup(arena.ReasonClientGone)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case <-ctx.Done():
			break readLoop
		default:
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		s.dispatch(ctx, controller, parsed)
	}

	controller.Cleanup(arena.ReasonClientGone)
	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) dispatch(ctx context.Context, controller *arena.Controller, msg any) {
	switch m := msg.(type) {
	case protocol.ClientMedia:
		controller.HandleMediaAnnounce(ctx, m.Ready, m.Detail)
	case protocol.ClientAudioChunk:
		controller.HandleAudioFrame(ctx, m)
	case protocol.ClientVisionFrame:
		controller.HandleVisionFrame(ctx, visionFrameOf(m))
	case protocol.ClientControl:
		controller.HandleControl(m.Action)
	}
}

func visionFrameOf(m protocol.ClientVisionFrame) gesture.VisionFrame {
	hands := make([][]gesture.Landmark, len(m.Hands))
	for i, hand := range m.Hands {
		hands[i] = make([]gesture.Landmark, len(hand))
		for j, lm := range hand {
			hands[i][j] = gesture.Landmark{X: lm.X, Y: lm.Y, Z: lm.Z}
		}
	}
	return gesture.VisionFrame{
		Blendshapes: m.Blendshapes,
		Hands:       hands,
		Unavailable: m.Unavailable,
		TSMs:        m.TSMs,
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientVisionFrame:
		return m.Type, true
	case protocol.ClientMedia:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.SessionState:
		return m.Type, true
	case protocol.TranscriptUpdate:
		return m.Type, true
	case protocol.AssistantAudioChunk:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.GestureSnapshot:
		return m.Type, true
	case protocol.GestureTrigger:
		return m.Type, true
	case protocol.CountdownTick:
		return m.Type, true
	case protocol.SessionEnded:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
