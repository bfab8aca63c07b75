package gesture

// Kind discriminates face-blendshape gestures from hand-pose gestures.
type Kind string

const (
	KindFace Kind = "face"
	KindHand Kind = "hand"
)

// Definition describes one recognizable gesture. Face gestures carry the
// blendshape category name and a hand-tuned threshold; hand gestures carry
// the named pose evaluated over landmark geometry.
type Definition struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Icon      string  `json:"icon"`
	Kind      Kind    `json:"kind"`
	Blend     string  `json:"blend,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Pose      string  `json:"pose,omitempty"`
}

// Definitions is the fixed gesture vocabulary. Table order doubles as the
// trigger tie-break: when several gestures are active in the same frame,
// the first one listed here is the one reported.
var Definitions = []Definition{
	{ID: "smile", Label: "SORRISO", Icon: "😊", Kind: KindFace, Blend: "mouthSmileLeft", Threshold: 0.6},
	{ID: "pucker", Label: "BIQUINHO", Icon: "😚", Kind: KindFace, Blend: "mouthPucker", Threshold: 0.75},
	{ID: "tongue", Label: "LÍNGUA", Icon: "😛", Kind: KindFace, Blend: "tongueOut", Threshold: 0.4},
	{ID: "laugh", Label: "RISADA", Icon: "😂", Kind: KindFace, Blend: "jawOpen", Threshold: 0.7},
	{ID: "surprise", Label: "CHOQUE", Icon: "😲", Kind: KindFace, Blend: "eyeWideLeft", Threshold: 0.5},
	{ID: "frown", Label: "BRAVO", Icon: "😠", Kind: KindFace, Blend: "browDownLeft", Threshold: 0.5},
	{ID: "eyebrows", Label: "DESDÉM", Icon: "🤨", Kind: KindFace, Blend: "browOuterUpLeft", Threshold: 0.5},
	{ID: "look_left", Label: "OLHAR LADO", Icon: "😒", Kind: KindFace, Blend: "eyeLookOutLeft", Threshold: 0.7},

	{ID: "middle_finger", Label: "DEDO MEIO", Icon: "🖕", Kind: KindHand, Pose: "RUDE"},
	{ID: "thumbs_up", Label: "JOINHA", Icon: "👍", Kind: KindHand, Pose: "OK"},
	{ID: "point", Label: "APONTAR", Icon: "👉", Kind: KindHand, Pose: "POINT"},
	{ID: "pray", Label: "PERDÃO", Icon: "🙏", Kind: KindHand, Pose: "PRAY"},
	{ID: "stop", Label: "PARA!", Icon: "✋", Kind: KindHand, Pose: "STOP"},
}

// Lookup returns the definition for an id.
func Lookup(id string) (Definition, bool) {
	for _, d := range Definitions {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}
