package audio

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestCursorGaplessSequence(t *testing.T) {
	c := NewCursor()
	durations := []time.Duration{
		120 * time.Millisecond,
		80 * time.Millisecond,
		200 * time.Millisecond,
		40 * time.Millisecond,
	}

	firstArrival := 50 * time.Millisecond
	now := firstArrival
	var prevEnd time.Duration
	var total time.Duration

	for i, d := range durations {
		start := c.Schedule(now, d)
		if i == 0 {
			if start != firstArrival {
				t.Fatalf("first start = %v, want %v", start, firstArrival)
			}
		} else if start != prevEnd {
			t.Fatalf("chunk %d start = %v, want previous end %v (gapless)", i, start, prevEnd)
		}
		if start < now {
			t.Fatalf("chunk %d scheduled in the past: start=%v now=%v", i, start, now)
		}
		prevEnd = start + d
		total += d
		// Later chunks arrive while earlier ones are still queued.
		now += 10 * time.Millisecond
	}

	want := firstArrival + total
	if c.Next() != want {
		t.Fatalf("cursor = %v, want firstArrivalDelay+sum(durations) = %v", c.Next(), want)
	}
}

func TestCursorLateChunkNeverSchedulesInPast(t *testing.T) {
	c := NewCursor()
	c.Schedule(0, 10*time.Millisecond)

	// Output clock has run well past the queued audio.
	now := 500 * time.Millisecond
	start := c.Schedule(now, 20*time.Millisecond)
	if start != now {
		t.Fatalf("start = %v, want %v (max of cursor and output time)", start, now)
	}
	if c.Next() != now+20*time.Millisecond {
		t.Fatalf("cursor = %v, want %v", c.Next(), now+20*time.Millisecond)
	}
}

func TestCursorReset(t *testing.T) {
	c := NewCursor()
	c.Schedule(0, time.Second)
	c.Reset()
	if c.Next() != 0 {
		t.Fatalf("cursor after Reset = %v, want 0", c.Next())
	}
}

func TestDecodeBase64PCM16(t *testing.T) {
	good := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})
	raw, err := DecodeBase64PCM16(good)
	if err != nil {
		t.Fatalf("DecodeBase64PCM16() error = %v", err)
	}
	if len(raw) != 4 {
		t.Fatalf("len = %d, want 4", len(raw))
	}

	if _, err := DecodeBase64PCM16(""); err == nil {
		t.Fatalf("expected error for empty payload")
	}
	if _, err := DecodeBase64PCM16("!!!not-base64!!!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
	odd := base64.StdEncoding.EncodeToString([]byte{1, 0, 2})
	if _, err := DecodeBase64PCM16(odd); err != ErrOddLengthChunk {
		t.Fatalf("odd chunk error = %v, want ErrOddLengthChunk", err)
	}
}

func TestDuration(t *testing.T) {
	// 24000 samples of mono pcm16 at 24 kHz is exactly one second.
	raw := make([]byte, 48000)
	if d := Duration(raw, 24000); d != time.Second {
		t.Fatalf("Duration = %v, want 1s", d)
	}
	if d := Duration(nil, 24000); d != 0 {
		t.Fatalf("Duration(nil) = %v, want 0", d)
	}
	if d := Duration(raw, 0); d != 0 {
		t.Fatalf("Duration(rate 0) = %v, want 0", d)
	}
}
