package persona

import (
	"fmt"
	"math"
	"os"
	"strings"

	_ "embed"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Persona is the immutable configuration of one AI opponent. It is selected
// from the catalog or built from user input, and read-only once a session
// has started.
type Persona struct {
	ID              string `yaml:"id" json:"id"`
	Name            string `yaml:"name" json:"name"`
	Personality     string `yaml:"personality" json:"personality"`
	Emoji           string `yaml:"emoji" json:"emoji"`
	FuryLevel       int    `yaml:"fury_level" json:"fury_level"`
	Theme           string `yaml:"theme" json:"theme"`
	Tone            string `yaml:"tone" json:"tone"`
	CatchPhrase     string `yaml:"catch_phrase" json:"catch_phrase"`
	DurationSeconds int    `yaml:"duration_seconds" json:"duration_seconds"`
	CreditsCost     int    `yaml:"credits_cost" json:"credits_cost"`
	VoiceName       string `yaml:"voice_name" json:"voice_name"`
	GradientFrom    string `yaml:"gradient_from" json:"gradient_from"`
	GradientTo      string `yaml:"gradient_to" json:"gradient_to"`
}

//go:embed catalog.yaml
var embeddedCatalog []byte

// Catalog holds the stock opponents in their published order.
type Catalog struct {
	personas []Persona
	byID     map[string]Persona
}

// LoadCatalog parses the catalog from path when set, otherwise from the
// embedded default.
func LoadCatalog(path string) (*Catalog, error) {
	raw := embeddedCatalog
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read persona catalog: %w", err)
		}
		raw = b
	}

	var doc struct {
		Personas []Persona `yaml:"personas"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse persona catalog: %w", err)
	}
	if len(doc.Personas) == 0 {
		return nil, fmt.Errorf("persona catalog is empty")
	}

	byID := make(map[string]Persona, len(doc.Personas))
	for _, p := range doc.Personas {
		if err := validate(p); err != nil {
			return nil, fmt.Errorf("persona %q: %w", p.ID, err)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", p.ID)
		}
		byID[p.ID] = p
	}
	return &Catalog{personas: doc.Personas, byID: byID}, nil
}

func (c *Catalog) List() []Persona {
	out := make([]Persona, len(c.personas))
	copy(out, c.personas)
	return out
}

func (c *Catalog) Get(id string) (Persona, bool) {
	p, ok := c.byID[id]
	return p, ok
}

func validate(p Persona) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("missing id")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("missing name")
	}
	if p.DurationSeconds <= 0 {
		return fmt.Errorf("duration_seconds must be positive")
	}
	if p.CreditsCost <= 0 {
		return fmt.Errorf("credits_cost must be positive")
	}
	return nil
}

// CustomRequest builds a one-off persona from the free-form configuration
// screen: a duration slider in minutes, the argument theme, and one of the
// four personality archetypes.
type CustomRequest struct {
	DurationMinutes int    `json:"duration_minutes"`
	Theme           string `json:"theme"`
	PersonalityID   string `json:"personality_id"`
}

type archetype struct {
	label       string
	tone        string
	catchPhrase string
	emoji       string
	fury        int
}

var archetypes = map[string]archetype{
	"sarcastico": {label: "Sarcástica", tone: "debochado", catchPhrase: "Nossa, que original...", emoji: "🙄", fury: 3},
	"furioso":    {label: "Furiosa", tone: "agressivo", catchPhrase: "VOCÊ NÃO ME CONHECE!", emoji: "🤬", fury: 5},
	"engracado":  {label: "Engraçada", tone: "zoeiro", catchPhrase: "KKKKKK para tudo!", emoji: "🤣", fury: 2},
	"dramatico":  {label: "Dramática", tone: "dramático", catchPhrase: "Você não sabe o que eu passei...", emoji: "🥺", fury: 4},
}

// BuildCustom derives a full persona from user configuration. Cost scales
// with duration: two credits per minute, rounded up.
func BuildCustom(req CustomRequest, defaultVoice string) (Persona, error) {
	if req.DurationMinutes < 1 || req.DurationMinutes > 10 {
		return Persona{}, fmt.Errorf("duration must be between 1 and 10 minutes")
	}
	if strings.TrimSpace(req.Theme) == "" {
		return Persona{}, fmt.Errorf("theme is required")
	}
	a, ok := archetypes[strings.ToLower(strings.TrimSpace(req.PersonalityID))]
	if !ok {
		return Persona{}, fmt.Errorf("unknown personality %q", req.PersonalityID)
	}

	return Persona{
		ID:              "custom-" + uuid.NewString(),
		Name:            "IA Customizada",
		Personality:     a.label,
		Emoji:           a.emoji,
		FuryLevel:       a.fury,
		Theme:           strings.TrimSpace(req.Theme),
		Tone:            a.tone,
		CatchPhrase:     a.catchPhrase,
		DurationSeconds: req.DurationMinutes * 60,
		CreditsCost:     int(math.Ceil(float64(req.DurationMinutes) * 2)),
		VoiceName:       defaultVoice,
		GradientFrom:    "#ec4899",
		GradientTo:      "#db2777",
	}, nil
}

// SystemInstruction renders the argue-session prompt for the live backend.
func (p Persona) SystemInstruction() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Você é %s, uma IA com personalidade %s.\n", p.Name, p.Personality)
	fmt.Fprintf(&b, "Seu tema principal é: %s.\n", p.Theme)
	fmt.Fprintf(&b, "Tom de voz: %s.\n", strings.ToUpper(p.Tone))
	fmt.Fprintf(&b, "Sua frase de efeito: %q\n\n", p.CatchPhrase)
	b.WriteString("REGRAS:\n")
	b.WriteString("- Seja EXTREMAMENTE expressiva e dramática\n")
	fmt.Fprintf(&b, "- Use seu tom %s em todas as respostas\n", p.Tone)
	b.WriteString("- Reaja aos gestos do usuário de forma exagerada\n")
	b.WriteString("- Mantenha o conflito interessante e divertido\n")
	b.WriteString("- NÃO PARE de provocar até o tempo acabar!")
	return b.String()
}
