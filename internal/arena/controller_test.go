package arena

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/milleriumage/drarena/internal/gesture"
	"github.com/milleriumage/drarena/internal/live"
	"github.com/milleriumage/drarena/internal/persona"
	"github.com/milleriumage/drarena/internal/protocol"
)

type eventSink struct {
	mu   sync.Mutex
	msgs []any
}

func (s *eventSink) send(msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *eventSink) snapshot() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *eventSink) count(match func(any) bool) int {
	n := 0
	for _, m := range s.snapshot() {
		if match(m) {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testPersona(durationSeconds int) persona.Persona {
	return persona.Persona{
		ID:              "maya",
		Name:            "Maya",
		Personality:     "Furiosa",
		Theme:           "Trânsito",
		Tone:            "agressivo",
		CatchPhrase:     "VOCÊ NÃO SABE NADA!",
		DurationSeconds: durationSeconds,
		CreditsCost:     50,
		VoiceName:       "Kore",
	}
}

type controllerFixture struct {
	controller *Controller
	manager    *Manager
	adapter    *live.MockAdapter
	sink       *eventSink
	ticks      chan time.Time
	session    *Session
	cleanups   chan string
}

func newControllerFixture(t *testing.T, durationSeconds int) *controllerFixture {
	t.Helper()
	manager := NewManager(time.Minute)
	session := manager.Create("user-1", testPersona(durationSeconds))
	adapter := live.NewMockAdapter()
	sink := &eventSink{}
	ticks := make(chan time.Time)
	cleanups := make(chan string, 1)

	controller := NewController(ControllerConfig{
		Session:            session,
		Manager:            manager,
		Adapter:            adapter,
		Model:              "test-model",
		GestureCooldown:    4 * time.Second,
		CaptureSampleRate:  16000,
		PlaybackSampleRate: 24000,
		Send:               sink.send,
		Ticks:              ticks,
		OnCleanup:          func(reason string) { cleanups <- reason },
	})
	t.Cleanup(func() { controller.Cleanup(ReasonClientGone) })

	return &controllerFixture{
		controller: controller,
		manager:    manager,
		adapter:    adapter,
		sink:       sink,
		ticks:      ticks,
		session:    session,
		cleanups:   cleanups,
	}
}

func (f *controllerFixture) activate(t *testing.T) *live.MockConn {
	t.Helper()
	f.controller.HandleMediaAnnounce(context.Background(), true, "")
	conn := f.adapter.LastConn()
	if conn == nil {
		t.Fatal("adapter was not opened")
	}
	return conn
}

func pcmBase64(samples int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, samples*2))
}

func TestMediaFailureEndsSessionWithoutOpeningBackend(t *testing.T) {
	f := newControllerFixture(t, 60)

	f.controller.HandleMediaAnnounce(context.Background(), false, "mic denied")

	if len(f.adapter.OpenedConfigs()) != 0 {
		t.Fatal("backend should not open when devices are unavailable")
	}
	select {
	case reason := <-f.cleanups:
		if reason != ReasonMediaUnavailable {
			t.Fatalf("cleanup reason = %q, want %q", reason, ReasonMediaUnavailable)
		}
	default:
		t.Fatal("cleanup did not run")
	}
	s, err := f.manager.Get(f.session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.Status != StatusError {
		t.Fatalf("status = %q, want error", s.Status)
	}
}

func TestMediaReadyActivatesSessionWithPersonaPrompt(t *testing.T) {
	f := newControllerFixture(t, 60)
	f.activate(t)

	cfgs := f.adapter.OpenedConfigs()
	if len(cfgs) != 1 {
		t.Fatalf("opened %d sessions, want 1", len(cfgs))
	}
	if cfgs[0].Model != "test-model" || cfgs[0].VoiceName != "Kore" {
		t.Fatalf("session config = %+v", cfgs[0])
	}
	if !strings.Contains(cfgs[0].SystemInstruction, "Você é Maya") {
		t.Fatalf("system instruction missing persona: %q", cfgs[0].SystemInstruction)
	}

	s, err := f.manager.Get(f.session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.Status != StatusActive {
		t.Fatalf("status = %q, want active", s.Status)
	}
}

func TestOpenFailureEndsSessionWithoutCountdown(t *testing.T) {
	f := newControllerFixture(t, 60)
	f.adapter.FailOpenWith(errors.New("backend down"))

	f.controller.HandleMediaAnnounce(context.Background(), true, "")

	select {
	case reason := <-f.cleanups:
		if reason != ReasonLiveOpenFailed {
			t.Fatalf("cleanup reason = %q, want %q", reason, ReasonLiveOpenFailed)
		}
	default:
		t.Fatal("cleanup did not run")
	}
	if n := f.sink.count(func(m any) bool { _, ok := m.(protocol.CountdownTick); return ok }); n != 0 {
		t.Fatalf("countdown ticks = %d, want 0", n)
	}
}

func TestHalfDuplexDropsFramesWhileSpeaking(t *testing.T) {
	f := newControllerFixture(t, 60)
	conn := f.activate(t)
	ctx := context.Background()

	frame := protocol.ClientAudioChunk{SessionID: f.session.ID, PCM16Base64: pcmBase64(160), SampleRate: 16000}

	f.controller.HandleAudioFrame(ctx, frame)
	waitFor(t, "first frame forwarded", func() bool { return len(conn.SentAudio()) == 1 })

	// Response audio flips the speaking flag; frames must now be dropped.
	conn.Emit(live.Event{Audio: make([]byte, 4800)})
	waitFor(t, "assistant chunk scheduled", func() bool {
		return f.sink.count(func(m any) bool { _, ok := m.(protocol.AssistantAudioChunk); return ok }) == 1
	})

	f.controller.HandleAudioFrame(ctx, frame)
	f.controller.HandleAudioFrame(ctx, frame)
	if got := len(conn.SentAudio()); got != 1 {
		t.Fatalf("frames forwarded while speaking = %d, want 1 total", got)
	}

	// Turn completion reopens the pump.
	conn.Emit(live.Event{TurnComplete: true})
	waitFor(t, "turn end", func() bool {
		return f.sink.count(func(m any) bool { _, ok := m.(protocol.AssistantTurnEnd); return ok }) == 1
	})
	f.controller.HandleAudioFrame(ctx, frame)
	waitFor(t, "frame forwarded after turn end", func() bool { return len(conn.SentAudio()) == 2 })
}

func TestAudioFramesDroppedBeforeActivation(t *testing.T) {
	f := newControllerFixture(t, 60)

	f.controller.HandleAudioFrame(context.Background(), protocol.ClientAudioChunk{
		SessionID: f.session.ID, PCM16Base64: pcmBase64(160), SampleRate: 16000,
	})
	if len(f.adapter.OpenedConfigs()) != 0 {
		t.Fatal("no backend should exist before activation")
	}
}

func TestAssistantAudioScheduledGaplessly(t *testing.T) {
	f := newControllerFixture(t, 60)
	conn := f.activate(t)

	// Two 100ms chunks at 24kHz.
	chunk := make([]byte, 4800)
	conn.Emit(live.Event{Audio: chunk})
	conn.Emit(live.Event{Audio: chunk})
	waitFor(t, "both chunks scheduled", func() bool {
		return f.sink.count(func(m any) bool { _, ok := m.(protocol.AssistantAudioChunk); return ok }) == 2
	})

	var chunks []protocol.AssistantAudioChunk
	for _, m := range f.sink.snapshot() {
		if c, ok := m.(protocol.AssistantAudioChunk); ok {
			chunks = append(chunks, c)
		}
	}
	first, second := chunks[0], chunks[1]
	if second.PlayAtMs < first.PlayAtMs+100 {
		t.Fatalf("second chunk at %dms overlaps first at %dms", second.PlayAtMs, first.PlayAtMs)
	}
	if first.SampleRate != 24000 || first.Format != "pcm16" {
		t.Fatalf("chunk metadata = %+v", first)
	}
	if second.Seq != first.Seq+1 {
		t.Fatalf("seq did not advance: %d then %d", first.Seq, second.Seq)
	}
	if first.DurationMs != 100 {
		t.Fatalf("duration = %dms, want 100", first.DurationMs)
	}
}

// Cleanup can fire from the countdown or receive goroutines while the
// read loop is still delivering frames; the teardown must not race the
// classifier cooldown or the playback cursor.
func TestCleanupConcurrentWithFrameHandlers(t *testing.T) {
	f := newControllerFixture(t, 60)
	conn := f.activate(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		frame := gesture.VisionFrame{Blendshapes: map[string]float64{"mouthSmileLeft": 0.9}}
		for {
			select {
			case <-stop:
				return
			default:
			}
			f.controller.HandleVisionFrame(context.Background(), frame)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			conn.Emit(live.Event{Audio: make([]byte, 480)})
		}
	}()

	time.Sleep(5 * time.Millisecond)
	f.controller.Cleanup(ReasonTimeUp)
	close(stop)
	wg.Wait()

	if n := f.sink.count(func(m any) bool { _, ok := m.(protocol.SessionEnded); return ok }); n != 1 {
		t.Fatalf("session_ended events = %d, want 1", n)
	}
}

func TestAnnounceTimeoutEndsSession(t *testing.T) {
	manager := NewManager(time.Minute)
	session := manager.Create("user-1", testPersona(60))
	sink := &eventSink{}
	cleanups := make(chan string, 1)

	controller := NewController(ControllerConfig{
		Session:            session,
		Manager:            manager,
		Adapter:            live.NewMockAdapter(),
		Model:              "test-model",
		GestureCooldown:    4 * time.Second,
		CaptureSampleRate:  16000,
		PlaybackSampleRate: 24000,
		AnnounceTimeout:    10 * time.Millisecond,
		Send:               sink.send,
		OnCleanup:          func(reason string) { cleanups <- reason },
	})
	defer controller.Cleanup(ReasonClientGone)

	select {
	case reason := <-cleanups:
		if reason != ReasonMediaUnavailable {
			t.Fatalf("cleanup reason = %q, want %q", reason, ReasonMediaUnavailable)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("announce timeout did not fire")
	}
}

func TestMalformedAssistantChunkDoesNotEndSession(t *testing.T) {
	f := newControllerFixture(t, 60)
	conn := f.activate(t)

	conn.Emit(live.Event{Audio: []byte{0x01}}) // odd length
	waitFor(t, "decode error surfaced", func() bool {
		return f.sink.count(func(m any) bool {
			e, ok := m.(protocol.ErrorEvent)
			return ok && e.Code == "bad_assistant_audio"
		}) == 1
	})

	// Session survives and the next chunk plays.
	conn.Emit(live.Event{Audio: make([]byte, 4800)})
	waitFor(t, "next chunk scheduled", func() bool {
		return f.sink.count(func(m any) bool { _, ok := m.(protocol.AssistantAudioChunk); return ok }) == 1
	})
	s, _ := f.manager.Get(f.session.ID)
	if s.Status != StatusActive {
		t.Fatalf("status = %q, want active", s.Status)
	}
}

func TestTranscriptReplacedNotAppended(t *testing.T) {
	f := newControllerFixture(t, 60)
	conn := f.activate(t)

	first := "Você acha"
	second := "Você acha mesmo?"
	conn.Emit(live.Event{Transcript: &first})
	conn.Emit(live.Event{Transcript: &second})
	waitFor(t, "transcript updates", func() bool {
		return f.sink.count(func(m any) bool { _, ok := m.(protocol.TranscriptUpdate); return ok }) == 2
	})

	if got := f.controller.Transcript(); got != second {
		t.Fatalf("Transcript() = %q, want %q", got, second)
	}
}

func TestGestureTriggerSendsSystemNudge(t *testing.T) {
	f := newControllerFixture(t, 60)
	conn := f.activate(t)

	f.controller.HandleVisionFrame(context.Background(), gesture.VisionFrame{
		Blendshapes: map[string]float64{"mouthSmileLeft": 0.9},
	})

	texts := conn.SentTexts()
	if len(texts) != 1 {
		t.Fatalf("nudges sent = %d, want 1", len(texts))
	}
	want := "SISTEMA: Gesto [SORRISO] detectado. REAJA!"
	if texts[0] != want {
		t.Fatalf("nudge = %q, want %q", texts[0], want)
	}
	if n := f.sink.count(func(m any) bool { _, ok := m.(protocol.GestureTrigger); return ok }); n != 1 {
		t.Fatalf("gesture_trigger events = %d, want 1", n)
	}
}

func TestGestureSnapshotSentEvenWithoutTrigger(t *testing.T) {
	f := newControllerFixture(t, 60)
	f.activate(t)

	f.controller.HandleVisionFrame(context.Background(), gesture.VisionFrame{
		Blendshapes: map[string]float64{"mouthSmileLeft": 0.1},
	})
	var snap protocol.GestureSnapshot
	found := false
	for _, m := range f.sink.snapshot() {
		if s, ok := m.(protocol.GestureSnapshot); ok {
			snap = s
			found = true
		}
	}
	if !found {
		t.Fatal("no gesture snapshot sent")
	}
	if len(snap.Active) != 0 {
		t.Fatalf("active gestures = %v, want none", snap.Active)
	}
}

func TestCountdownEndsSessionAtZero(t *testing.T) {
	f := newControllerFixture(t, 2)
	conn := f.activate(t)

	f.ticks <- time.Time{}
	waitFor(t, "first tick", func() bool {
		return f.sink.count(func(m any) bool {
			c, ok := m.(protocol.CountdownTick)
			return ok && c.RemainingSeconds == 1
		}) == 1
	})

	f.ticks <- time.Time{}
	waitFor(t, "session end on zero", func() bool {
		return f.sink.count(func(m any) bool {
			e, ok := m.(protocol.SessionEnded)
			return ok && e.Reason == ReasonTimeUp
		}) == 1
	})

	waitFor(t, "live conn closed", conn.Closed)
	s, _ := f.manager.Get(f.session.ID)
	if s.Status != StatusEnded {
		t.Fatalf("status = %q, want ended", s.Status)
	}
	if s.RemainingSeconds != 0 {
		t.Fatalf("remaining = %d, want 0", s.RemainingSeconds)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	f := newControllerFixture(t, 60)
	conn := f.activate(t)

	f.controller.Cleanup(ReasonClientEnd)
	f.controller.Cleanup(ReasonClientGone)
	f.controller.Cleanup(ReasonClientEnd)

	if n := f.sink.count(func(m any) bool { _, ok := m.(protocol.SessionEnded); return ok }); n != 1 {
		t.Fatalf("session_ended events = %d, want 1", n)
	}
	if !conn.Closed() {
		t.Fatal("live conn not closed")
	}
	select {
	case reason := <-f.cleanups:
		if reason != ReasonClientEnd {
			t.Fatalf("cleanup reason = %q, want %q", reason, ReasonClientEnd)
		}
	default:
		t.Fatal("cleanup hook did not run")
	}
	// The hook fires once; a second buffered value would mean double cleanup.
	select {
	case r := <-f.cleanups:
		t.Fatalf("cleanup hook ran twice (second reason %q)", r)
	default:
	}
}

func TestBackendStreamCloseEndsSession(t *testing.T) {
	f := newControllerFixture(t, 60)
	conn := f.activate(t)

	_ = conn.Close()

	waitFor(t, "session ended after stream close", func() bool {
		return f.sink.count(func(m any) bool {
			e, ok := m.(protocol.SessionEnded)
			return ok && e.Reason == ReasonLiveClosed
		}) == 1
	})
}

func TestBackendErrorEndsSessionWithErrorStatus(t *testing.T) {
	f := newControllerFixture(t, 60)
	conn := f.activate(t)

	conn.Emit(live.Event{Err: errors.New("quota exceeded")})

	waitFor(t, "session ended after backend error", func() bool {
		return f.sink.count(func(m any) bool {
			e, ok := m.(protocol.SessionEnded)
			return ok && e.Reason == ReasonLiveError
		}) == 1
	})
	s, _ := f.manager.Get(f.session.ID)
	if s.Status != StatusError {
		t.Fatalf("status = %q, want error", s.Status)
	}
}
