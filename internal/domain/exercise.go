package domain

// Exercise describes one pitch mission a team can be assigned.
type Exercise struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Domain      string   `json:"domain,omitempty"`
	Description string   `json:"description,omitempty"`
	Logos       []string `json:"logos,omitempty"`
}

// Theme is the visual palette assigned alongside an exercise.
type Theme struct {
	ID     string            `json:"id"`
	Name   string            `json:"name,omitempty"`
	Colors map[string]string `json:"colors,omitempty"`
}

// Question is one prompt inside a phase definition.
type Question struct {
	ID          string  `json:"id,omitempty"`
	Text        string  `json:"text"`
	Criteria    string  `json:"criteria,omitempty"`
	Hint        string  `json:"hint,omitempty"`
	HintPenalty float64 `json:"hint_penalty,omitempty"`
}

// PhaseDef is the static definition of one scored phase.
type PhaseDef struct {
	ID               string     `json:"id,omitempty"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Weight           float64    `json:"weight"`
	TimeLimitSeconds float64    `json:"time_limit_seconds"`
	Questions        []Question `json:"questions"`
}

// HintPenaltyFor returns the penalty for unlocking the hint of question i.
// Falls back to the default of 50 points when the definition carries none.
func (d PhaseDef) HintPenaltyFor(i int) float64 {
	if i < 0 || i >= len(d.Questions) {
		return defaultHintPenalty
	}
	if p := d.Questions[i].HintPenalty; p > 0 {
		return p
	}
	return defaultHintPenalty
}

const defaultHintPenalty = 50.0
