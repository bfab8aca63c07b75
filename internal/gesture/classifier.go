package gesture

import (
	"time"
)

// VisionFrame is one detection pass over a rendered video frame, as reported
// by the client-side landmark detector: face blendshape scores plus the
// ordered landmark list for each detected hand.
type VisionFrame struct {
	Blendshapes map[string]float64 `json:"blendshapes"`
	Hands       [][]Landmark       `json:"hands"`
	Unavailable bool               `json:"unavailable"`
	TSMs        int64              `json:"ts_ms"`
}

// Detect returns the set of gesture ids active in this frame. The set is
// rebuilt from scratch every call; it carries no state between frames.
func Detect(frame VisionFrame) []string {
	var active []string
	for _, d := range Definitions {
		switch d.Kind {
		case KindFace:
			if frame.Blendshapes == nil {
				continue
			}
			if frame.Blendshapes[d.Blend] > d.Threshold {
				active = append(active, d.ID)
			}
		case KindHand:
			if matchPose(d.Pose, frame.Hands) {
				active = append(active, d.ID)
			}
		}
	}
	return active
}

// Classifier owns the gesture cooldown for one session. It is the sole
// writer of the cooldown timestamp.
type Classifier struct {
	cooldown time.Duration
	last     time.Time
	disabled bool
}

func NewClassifier(cooldown time.Duration) *Classifier {
	if cooldown <= 0 {
		cooldown = 4 * time.Second
	}
	return &Classifier{cooldown: cooldown}
}

// Disabled reports whether detection has been turned off for this session.
func (c *Classifier) Disabled() bool { return c.disabled }

// Observe processes one vision frame and decides whether a gesture message
// should be forwarded to the live session. A trigger requires at least one
// active gesture, an active session, a silent assistant, and a full cooldown
// window since the previous trigger. Only the first active gesture in table
// order is reported, and the cooldown timestamp advances on send, not on
// detection.
//
// A frame marked unavailable permanently disables the classifier for this
// session; detection loss is not a session error.
func (c *Classifier) Observe(frame VisionFrame, sessionActive, aiSpeaking bool, now time.Time) (active []string, triggered *Definition) {
	if frame.Unavailable {
		c.disabled = true
		return nil, nil
	}
	if c.disabled {
		return nil, nil
	}

	active = Detect(frame)
	if len(active) == 0 || !sessionActive || aiSpeaking {
		return active, nil
	}
	if !c.last.IsZero() && now.Sub(c.last) < c.cooldown {
		return active, nil
	}

	d, ok := Lookup(active[0])
	if !ok {
		return active, nil
	}
	c.last = now
	return active, &d
}

// Reset clears the cooldown state, for session cleanup.
func (c *Classifier) Reset() {
	c.last = time.Time{}
	c.disabled = false
}
