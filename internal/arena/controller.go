package arena

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/milleriumage/drarena/internal/audio"
	"github.com/milleriumage/drarena/internal/gesture"
	"github.com/milleriumage/drarena/internal/live"
	"github.com/milleriumage/drarena/internal/media"
	"github.com/milleriumage/drarena/internal/observability"
	"github.com/milleriumage/drarena/internal/protocol"
)

// End reasons reported in the session_ended event.
const (
	ReasonTimeUp           = "time_up"
	ReasonClientEnd        = "client_end"
	ReasonClientGone       = "client_gone"
	ReasonMediaUnavailable = "media_unavailable"
	ReasonLiveOpenFailed   = "live_open_failed"
	ReasonLiveError        = "live_error"
	ReasonLiveClosed       = "live_closed"
)

// ControllerConfig wires one websocket attachment to a session.
type ControllerConfig struct {
	Session         *Session
	Manager         *Manager
	Adapter         live.Adapter
	Model           string
	GestureCooldown time.Duration
	// AnnounceTimeout bounds how long the controller waits for the
	// client's device announce before giving up. Zero disables it.
	AnnounceTimeout    time.Duration
	CaptureSampleRate  int
	PlaybackSampleRate int
	Metrics            *observability.Metrics
	// Send delivers one outbound event to the client. It must not block.
	Send func(msg any)
	// Ticks overrides the one-second countdown source in tests. Nil
	// means a real time.Ticker.
	Ticks <-chan time.Time
	// OnCleanup runs once after the session has been torn down.
	OnCleanup func(reason string)
}

// Controller orchestrates one argue session: it gates admission on the
// client's device announce, opens the live backend, pumps capture audio
// upstream in half-duplex, schedules response audio on the playback
// cursor, classifies gestures, and runs the countdown. All state is
// controller-scoped; nothing is shared between sessions.
type Controller struct {
	mu         sync.Mutex
	session    *Session
	manager    *Manager
	adapter    live.Adapter
	model      string
	classifier *gesture.Classifier
	slot       *media.Slot
	cursor     *audio.Cursor
	metrics    *observability.Metrics
	send       func(msg any)
	ticks      <-chan time.Time
	onCleanup  func(reason string)

	captureRate  int
	playbackRate int

	conn       live.Conn
	handle     *media.Handle
	active     bool
	aiSpeaking bool
	transcript string
	remaining  int
	audioSeq   int

	done        chan struct{}
	cleanupOnce sync.Once
}

func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		session:      cfg.Session,
		manager:      cfg.Manager,
		adapter:      cfg.Adapter,
		model:        cfg.Model,
		classifier:   gesture.NewClassifier(cfg.GestureCooldown),
		slot:         media.NewSlot(),
		cursor:       audio.NewCursor(),
		metrics:      cfg.Metrics,
		send:         cfg.Send,
		ticks:        cfg.Ticks,
		onCleanup:    cfg.OnCleanup,
		captureRate:  cfg.CaptureSampleRate,
		playbackRate: cfg.PlaybackSampleRate,
		remaining:    cfg.Session.RemainingSeconds,
		done:         make(chan struct{}),
	}
	c.sendState(string(StatusConnecting))
	if cfg.AnnounceTimeout > 0 {
		go c.watchAnnounce(cfg.AnnounceTimeout)
	}
	return c
}

// watchAnnounce ends sessions whose client never reported its devices.
func (c *Controller) watchAnnounce(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		c.mu.Lock()
		active := c.active
		c.mu.Unlock()
		if !active {
			c.sendError("media_announce_timeout", "client", "no device announce received", false)
			c.Cleanup(ReasonMediaUnavailable)
		}
	}
}

func (c *Controller) sendState(status string) {
	c.send(protocol.SessionState{
		Type:             protocol.TypeSessionState,
		SessionID:        c.session.ID,
		Status:           status,
		PersonaID:        c.session.Persona.ID,
		RemainingSeconds: c.remainingSeconds(),
	})
}

func (c *Controller) remainingSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Controller) sendError(code, source, detail string, retryable bool) {
	c.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.session.ID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	})
}

func (c *Controller) countSessionEvent(event string) {
	if c.metrics != nil {
		c.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (c *Controller) countCaptureFrame(outcome string) {
	if c.metrics != nil {
		c.metrics.CaptureFrames.WithLabelValues(outcome).Inc()
	}
}

func (c *Controller) countAudioChunk(outcome string) {
	if c.metrics != nil {
		c.metrics.AudioChunks.WithLabelValues(outcome).Inc()
	}
}

// HandleMediaAnnounce processes the client's device acquisition report.
// A ready announce opens the live backend and activates the session; a
// failure ends it without consuming time.
func (c *Controller) HandleMediaAnnounce(ctx context.Context, ready bool, detail string) {
	if !ready {
		c.sendError("media_unavailable", "client", detail, false)
		c.Cleanup(ReasonMediaUnavailable)
		return
	}

	c.mu.Lock()
	handle, err := c.slot.Acquire(media.Announce{Ready: true, Detail: detail}, c.captureRate, c.playbackRate)
	c.mu.Unlock()
	if err != nil {
		c.sendError("media_unavailable", "client", err.Error(), false)
		c.Cleanup(ReasonMediaUnavailable)
		return
	}

	openStart := time.Now()
	conn, events, err := c.adapter.Open(ctx, live.SessionConfig{
		Model:             c.model,
		VoiceName:         c.session.Persona.VoiceName,
		SystemInstruction: c.session.Persona.SystemInstruction(),
	})
	if err != nil {
		c.mu.Lock()
		c.slot.Release()
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.LiveAdapterError.WithLabelValues("open_failed").Inc()
		}
		c.sendError("live_open_failed", "live", err.Error(), false)
		c.Cleanup(ReasonLiveOpenFailed)
		return
	}
	if c.metrics != nil {
		c.metrics.ObserveLiveOpenLatency(time.Since(openStart))
	}

	c.mu.Lock()
	c.conn = conn
	c.handle = handle
	c.active = true
	c.mu.Unlock()

	if err := c.manager.SetActive(c.session.ID); err != nil {
		log.Printf("arena: session %s activate: %v", c.session.ID, err)
	}
	if c.metrics != nil {
		c.metrics.ActiveSessions.Inc()
	}
	c.countSessionEvent("activated")
	c.sendState(string(StatusActive))

	go c.receiveLoop(events)
	go c.runCountdown()
}

// HandleAudioFrame forwards one capture frame upstream. The pump is
// half-duplex: frames arriving while the assistant is speaking are
// dropped, not buffered, so the backend never hears its own voice.
// The speaking flag is read fresh for every frame.
func (c *Controller) HandleAudioFrame(ctx context.Context, msg protocol.ClientAudioChunk) {
	c.mu.Lock()
	active, speaking := c.active, c.aiSpeaking
	conn := c.conn
	c.mu.Unlock()

	if !active || conn == nil {
		c.countCaptureFrame("dropped_inactive")
		return
	}
	if speaking {
		c.countCaptureFrame("dropped_speaking")
		return
	}

	pcm, err := audio.DecodeBase64PCM16(msg.PCM16Base64)
	if err != nil {
		c.countCaptureFrame("dropped_invalid")
		c.sendError("bad_audio_chunk", "client", err.Error(), true)
		return
	}
	if err := conn.SendAudio(ctx, pcm); err != nil {
		c.countCaptureFrame("dropped_send_error")
		c.sendError("live_send_failed", "live", err.Error(), true)
		return
	}
	c.countCaptureFrame("sent")
	_ = c.manager.Touch(c.session.ID)
}

// HandleVisionFrame classifies one tracker frame. Every frame produces
// a fresh active-gesture snapshot; at most one gesture fires per
// cooldown window and is forwarded to the backend as a system nudge.
func (c *Controller) HandleVisionFrame(ctx context.Context, frame gesture.VisionFrame) {
	c.mu.Lock()
	active, speaking := c.active, c.aiSpeaking
	conn := c.conn
	// Observe writes the cooldown timestamp; Cleanup resets it under the
	// same lock.
	activeGestures, triggered := c.classifier.Observe(frame, active, speaking, time.Now())
	c.mu.Unlock()

	c.send(protocol.GestureSnapshot{
		Type:      protocol.TypeGestureSnapshot,
		SessionID: c.session.ID,
		Active:    activeGestures,
	})
	if triggered == nil {
		return
	}

	if c.metrics != nil {
		c.metrics.GestureEvents.WithLabelValues(triggered.ID).Inc()
	}
	c.send(protocol.GestureTrigger{
		Type:      protocol.TypeGestureTrigger,
		SessionID: c.session.ID,
		GestureID: triggered.ID,
		Label:     triggered.Label,
		Icon:      triggered.Icon,
	})
	if conn != nil {
		nudge := "SISTEMA: Gesto [" + triggered.Label + "] detectado. REAJA!"
		if err := conn.SendText(ctx, nudge); err != nil {
			c.sendError("live_send_failed", "live", err.Error(), true)
		}
	}
}

// HandleControl processes an explicit client action.
func (c *Controller) HandleControl(action string) {
	switch action {
	case "end":
		c.Cleanup(ReasonClientEnd)
	default:
		c.sendError("unsupported_action", "client", action, false)
	}
}

// receiveLoop drains backend events until the channel closes. Audio
// chunks are scheduled on the playback cursor so consecutive chunks
// play gaplessly; a chunk that fails to decode is skipped without
// ending the session.
func (c *Controller) receiveLoop(events <-chan live.Event) {
	for ev := range events {
		if ev.Err != nil {
			if c.metrics != nil {
				c.metrics.LiveAdapterError.WithLabelValues("stream").Inc()
			}
			c.sendError("live_error", "live", ev.Err.Error(), false)
			c.Cleanup(ReasonLiveError)
			return
		}

		if ev.Transcript != nil {
			c.mu.Lock()
			c.transcript = *ev.Transcript
			c.mu.Unlock()
			c.send(protocol.TranscriptUpdate{
				Type:      protocol.TypeTranscriptUpdate,
				SessionID: c.session.ID,
				Text:      *ev.Transcript,
			})
		}

		if len(ev.Audio) > 0 {
			c.scheduleAudio(ev.Audio)
		}

		if ev.TurnComplete {
			c.mu.Lock()
			c.aiSpeaking = false
			c.mu.Unlock()
			c.send(protocol.AssistantTurnEnd{
				Type:      protocol.TypeAssistantTurnEnd,
				SessionID: c.session.ID,
			})
		}
	}

	select {
	case <-c.done:
	default:
		c.Cleanup(ReasonLiveClosed)
	}
}

func (c *Controller) scheduleAudio(pcm []byte) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		c.countAudioChunk("decode_error")
		c.sendError("bad_assistant_audio", "live", "malformed pcm chunk", true)
		return
	}

	c.mu.Lock()
	handle := c.handle
	if handle == nil {
		c.mu.Unlock()
		return
	}
	pos := handle.Output().Position()
	duration := audio.Duration(pcm, c.playbackRate)
	start := c.cursor.Schedule(pos, duration)
	c.aiSpeaking = true
	c.audioSeq++
	seq := c.audioSeq
	c.mu.Unlock()

	c.countAudioChunk("scheduled")
	c.send(protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudio,
		SessionID:   c.session.ID,
		Seq:         seq,
		Format:      "pcm16",
		SampleRate:  c.playbackRate,
		AudioBase64: audio.EncodeBase64PCM16(pcm),
		PlayAtMs:    start.Milliseconds(),
		DurationMs:  duration.Milliseconds(),
	})
}

// runCountdown decrements the remaining time once per tick and ends the
// session when it hits zero. The tick source is injectable for tests.
func (c *Controller) runCountdown() {
	ticks := c.ticks
	if ticks == nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			c.mu.Lock()
			if !c.active {
				c.mu.Unlock()
				return
			}
			c.remaining--
			remaining := c.remaining
			c.mu.Unlock()

			if remaining < 0 {
				return
			}
			_ = c.manager.SetRemaining(c.session.ID, remaining)
			c.send(protocol.CountdownTick{
				Type:             protocol.TypeCountdownTick,
				SessionID:        c.session.ID,
				RemainingSeconds: remaining,
			})
			if remaining == 0 {
				c.Cleanup(ReasonTimeUp)
				return
			}
		}
	}
}

// Cleanup tears the session down exactly once: close the live
// connection, release the device slot, mark the session ended, and tell
// the client why. Safe to call from any exit path, any number of times.
func (c *Controller) Cleanup(reason string) {
	c.cleanupOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		wasActive := c.active
		c.active = false
		c.aiSpeaking = false
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			if err := conn.Close(); err != nil {
				log.Printf("arena: session %s close live conn: %v", c.session.ID, err)
			}
		}

		// The read and receive goroutines touch the slot, classifier, and
		// cursor under c.mu; the resets must hold it too.
		c.mu.Lock()
		c.slot.Release()
		c.classifier.Reset()
		c.cursor.Reset()
		c.handle = nil
		c.mu.Unlock()

		status := StatusEnded
		switch reason {
		case ReasonMediaUnavailable, ReasonLiveOpenFailed, ReasonLiveError:
			status = StatusError
		}
		if _, err := c.manager.End(c.session.ID, status); err != nil {
			log.Printf("arena: session %s end: %v", c.session.ID, err)
		}
		if wasActive && c.metrics != nil {
			c.metrics.ActiveSessions.Dec()
		}
		c.countSessionEvent("ended_" + reason)

		c.send(protocol.SessionEnded{
			Type:      protocol.TypeSessionEnded,
			SessionID: c.session.ID,
			Reason:    reason,
		})
		log.Printf("arena: session %s ended (%s)", c.session.ID, reason)

		if c.onCleanup != nil {
			c.onCleanup(reason)
		}
	})
}

// Transcript returns the latest assistant transcript.
func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}
