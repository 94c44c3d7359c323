package domain

import (
	"strconv"
	"time"
)

// PhaseStatus tracks where a phase attempt is in its lifecycle.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseSubmitted  PhaseStatus = "submitted"
	PhasePassed     PhaseStatus = "passed"
	PhaseFailed     PhaseStatus = "failed"
)

// Terminal reports whether the status marks a finished attempt.
func (s PhaseStatus) Terminal() bool {
	return s == PhasePassed || s == PhaseFailed
}

// PhaseMetric is an immutable snapshot of one attempt's outcome.
type PhaseMetric struct {
	AIScore         float64 `json:"ai_score"`
	WeightedScore   float64 `json:"weighted_score"`
	DurationSeconds float64 `json:"duration_seconds"`
	Retries         int     `json:"retries"`
	TokensUsed      int64   `json:"tokens_used"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	TimePenalty     float64 `json:"time_penalty"`
	RetryPenalty    float64 `json:"retry_penalty"`
	HintPenalty     float64 `json:"hint_penalty"`
	EfficiencyBonus float64 `json:"efficiency_bonus"`
	VisualScore     float64 `json:"visual_score,omitempty"`
	VisualFeedback  string  `json:"visual_feedback,omitempty"`
	VisualAlignment string  `json:"visual_alignment,omitempty"`
}

// PhaseResponse is a single question-answer pair. Responses stay mutable
// while a phase is in draft so hint unlocks can be autosaved.
type PhaseResponse struct {
	QuestionID string `json:"question_id,omitempty"`
	Q          string `json:"q"`
	A          string `json:"a"`
	HintUsed   bool   `json:"hint_used"`
}

// PhaseData holds everything a team has produced for one phase. The latest
// attempt's numbers live in Metrics; History only receives an entry once an
// attempt reached a terminal status and is being superseded.
type PhaseData struct {
	PhaseID      string          `json:"phase_id"`
	Status       PhaseStatus     `json:"status"`
	Responses    []PhaseResponse `json:"responses"`
	Metrics      PhaseMetric     `json:"metrics"`
	Feedback     string          `json:"feedback,omitempty"`
	Rationale    string          `json:"rationale,omitempty"`
	Strengths    []string        `json:"strengths,omitempty"`
	Improvements []string        `json:"improvements,omitempty"`
	History      []PhaseMetric   `json:"history,omitempty"`
}

// RetriesSoFar counts the terminal attempts already recorded for this phase.
// This is the value compared against the retry limit and fed to the mercy rule.
func (p *PhaseData) RetriesSoFar() int {
	if p == nil {
		return 0
	}
	n := len(p.History)
	if p.Status.Terminal() {
		n++
	}
	return n
}

// SameAnswers reports whether the submitted answer set is identical to the
// stored one, hint flags included. Used for idempotent re-submission.
func (p *PhaseData) SameAnswers(responses []PhaseResponse) bool {
	if p == nil || len(p.Responses) != len(responses) {
		return false
	}
	for i, r := range responses {
		s := p.Responses[i]
		if r.QuestionID != s.QuestionID || r.A != s.A || r.HintUsed != s.HintUsed {
			return false
		}
	}
	return true
}

// Session is the full state of one team-attempt at the exercise.
type Session struct {
	ID            string                `json:"session_id"`
	TeamID        string                `json:"team_id"`
	Exercise      Exercise              `json:"exercise"`
	Theme         Theme                 `json:"theme"`
	CurrentPhase  int                   `json:"current_phase"`
	Phases        map[string]*PhaseData `json:"phases"`
	PhaseScores   map[string]float64    `json:"phase_scores"`
	TotalScore    float64               `json:"total_score"`
	TotalTokens   int64                 `json:"total_tokens"`
	ExtraAITokens int64                 `json:"extra_ai_tokens"`

	// Timer state: PhaseStartTimes holds the start of the current segment
	// only; PhaseElapsedSeconds carries accumulated time across navigations.
	PhaseStartTimes     map[string]time.Time `json:"phase_start_times"`
	PhaseElapsedSeconds map[string]float64   `json:"phase_elapsed_seconds"`

	IsComplete bool      `json:"is_complete"`
	Version    int64     `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewSession initialises the mutable maps so callers never nil-check them.
func NewSession(id, teamID string, exercise Exercise, theme Theme, now time.Time) *Session {
	return &Session{
		ID:                  id,
		TeamID:              teamID,
		Exercise:            exercise,
		Theme:               theme,
		CurrentPhase:        1,
		Phases:              map[string]*PhaseData{},
		PhaseScores:         map[string]float64{},
		PhaseStartTimes:     map[string]time.Time{},
		PhaseElapsedSeconds: map[string]float64{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// PhaseKey is the map key used for per-phase timer state.
func PhaseKey(phaseNumber int) string {
	return "phase_" + strconv.Itoa(phaseNumber)
}

// TeamContext is the persistent team -> assigned exercise/theme mapping, so a
// team always plays the same mission unless it explicitly picks another.
type TeamContext struct {
	TeamID    string
	Exercise  Exercise
	Theme     Theme
	CreatedAt time.Time
}
