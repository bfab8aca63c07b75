package gesture

// Landmark is a normalized hand-landmark coordinate. Y grows downward, so
// "above" means a smaller Y value.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MediaPipe hand-landmark indices used by the pose predicates.
const (
	lmWrist     = 0
	lmThumbIP   = 3
	lmThumbTip  = 4
	lmIndexMCP  = 5
	lmIndexPIP  = 6
	lmIndexTip  = 8
	lmMiddlePIP = 10
	lmMiddleTip = 12
	lmRingPIP   = 14
	lmRingTip   = 16
	lmPinkyPIP  = 18
	lmPinkyTip  = 20
)

const handLandmarkCount = 21

// matchPose evaluates a named hand pose over the detected hands. Each
// predicate only compares relative vertical ordering of landmark indices;
// poses are deliberately loose since the client-side detector already
// filtered to confident hands.
func matchPose(pose string, hands [][]Landmark) bool {
	switch pose {
	case "STOP":
		// Raised palm: index finger extended upward.
		h, ok := firstHand(hands)
		if !ok {
			return false
		}
		return h[lmIndexTip].Y < h[lmIndexMCP].Y
	case "POINT":
		h, ok := firstHand(hands)
		if !ok {
			return false
		}
		return extended(h, lmIndexTip, lmIndexPIP) &&
			curled(h, lmMiddleTip, lmMiddlePIP) &&
			curled(h, lmRingTip, lmRingPIP) &&
			curled(h, lmPinkyTip, lmPinkyPIP)
	case "RUDE":
		h, ok := firstHand(hands)
		if !ok {
			return false
		}
		return extended(h, lmMiddleTip, lmMiddlePIP) &&
			curled(h, lmIndexTip, lmIndexPIP) &&
			curled(h, lmRingTip, lmRingPIP) &&
			curled(h, lmPinkyTip, lmPinkyPIP)
	case "OK":
		// Thumbs up: thumb extended above its IP joint, fingers curled.
		h, ok := firstHand(hands)
		if !ok {
			return false
		}
		return h[lmThumbTip].Y < h[lmThumbIP].Y &&
			h[lmThumbTip].Y < h[lmIndexMCP].Y &&
			curled(h, lmIndexTip, lmIndexPIP) &&
			curled(h, lmMiddleTip, lmMiddlePIP) &&
			curled(h, lmRingTip, lmRingPIP) &&
			curled(h, lmPinkyTip, lmPinkyPIP)
	case "PRAY":
		// Both palms together: two hands, index knuckles close on the
		// horizontal axis, fingers pointing up.
		if len(hands) < 2 || len(hands[0]) < handLandmarkCount || len(hands[1]) < handLandmarkCount {
			return false
		}
		a, b := hands[0], hands[1]
		dx := a[lmIndexMCP].X - b[lmIndexMCP].X
		if dx < 0 {
			dx = -dx
		}
		return dx < 0.1 &&
			a[lmIndexTip].Y < a[lmWrist].Y &&
			b[lmIndexTip].Y < b[lmWrist].Y
	default:
		return false
	}
}

func firstHand(hands [][]Landmark) ([]Landmark, bool) {
	if len(hands) == 0 || len(hands[0]) < handLandmarkCount {
		return nil, false
	}
	return hands[0], true
}

func extended(h []Landmark, tip, pip int) bool { return h[tip].Y < h[pip].Y }
func curled(h []Landmark, tip, pip int) bool   { return h[tip].Y >= h[pip].Y }
