// Package lifecycle drives sessions through their phases: init/resume, the
// pause-aware phase timer, submission judging and score bookkeeping.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/engine/internal/domain"
	"github.com/pitchforge/engine/internal/evaluator"
	"github.com/pitchforge/engine/internal/judge"
	"github.com/pitchforge/engine/internal/ports"
	"github.com/pitchforge/engine/internal/resilience"
	"github.com/pitchforge/engine/internal/vault"
)

// ErrInvalidPhase is returned for phase numbers or names the exercise does
// not define.
var ErrInvalidPhase = errors.New("invalid phase")

// Client clocks drift; reported elapsed time may exceed server wall time by
// at most this much before being clamped.
const clockSkewTolerance = 5 * time.Second

// casAttempts bounds the re-read loop on optimistic-concurrency conflicts.
const casAttempts = 3

// PhaseEvaluator is the judging pipeline. The concrete implementation lives
// in the evaluator package; tests substitute a stub.
type PhaseEvaluator interface {
	Evaluate(ctx context.Context, sub evaluator.Submission) (evaluator.Result, error)
}

// Manager owns session state transitions.
type Manager struct {
	sessions ports.SessionRepository
	teams    ports.TeamContextRepository
	vault    *vault.Vault
	eval     PhaseEvaluator
	submit   func(ctx context.Context, fn func(context.Context) (evaluator.Result, error)) (evaluator.Result, error)
	scoring  domain.ScoringConfig
	metrics  ports.MetricsRecorder

	allowFailProceed bool
	dispatchTimeout  time.Duration
	now              func() time.Time

	// rng is shared by every handler goroutine; rngMu serializes draws.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// Options tunes policy knobs; zero values fall back to defaults.
type Options struct {
	Scoring          domain.ScoringConfig
	AllowFailProceed bool
	DispatchTimeout  time.Duration
	Now              func() time.Time
	Rand             *rand.Rand
}

func NewManager(
	sessions ports.SessionRepository,
	teams ports.TeamContextRepository,
	contentVault *vault.Vault,
	eval PhaseEvaluator,
	submit func(ctx context.Context, fn func(context.Context) (evaluator.Result, error)) (evaluator.Result, error),
	metrics ports.MetricsRecorder,
	opts Options,
) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Scoring == (domain.ScoringConfig{}) {
		opts.Scoring = domain.DefaultScoringConfig()
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 150 * time.Second
	}
	if submit == nil {
		submit = func(ctx context.Context, fn func(context.Context) (evaluator.Result, error)) (evaluator.Result, error) {
			return fn(ctx)
		}
	}
	return &Manager{
		sessions:         sessions,
		teams:            teams,
		vault:            contentVault,
		eval:             eval,
		submit:           submit,
		scoring:          opts.Scoring,
		metrics:          metrics,
		allowFailProceed: opts.AllowFailProceed,
		dispatchTimeout:  opts.DispatchTimeout,
		now:              opts.Now,
		rng:              opts.Rand,
	}
}

// InitInput requests a session for a team, optionally pinning exercise and
// theme.
type InitInput struct {
	TeamID     string
	ExerciseID string
	ThemeID    string
}

// InitResult is the created or resumed session plus its phase definitions.
type InitResult struct {
	Session *domain.Session
	Phases  map[int]domain.PhaseDef
	Resumed bool
}

// InitSession resumes the team's latest session when the requested exercise
// matches it (or none was requested); otherwise it creates a fresh session
// with a stable team assignment.
func (m *Manager) InitSession(ctx context.Context, in InitInput) (*InitResult, error) {
	existing, err := m.sessions.GetLatestForTeam(ctx, in.TeamID)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if in.ExerciseID == "" || in.ExerciseID == existing.Exercise.ID {
			log.Printf("resuming session %s for team %s (phase %d, complete=%v)",
				existing.ID, in.TeamID, existing.CurrentPhase, existing.IsComplete)
			return &InitResult{
				Session: existing,
				Phases:  m.vault.PhasesFor(existing.Exercise.ID),
				Resumed: true,
			}, nil
		}
		log.Printf("team %s switched exercise (%s -> %s), creating new session",
			in.TeamID, existing.Exercise.ID, in.ExerciseID)
	}

	exercise, theme, err := m.resolveAssignment(ctx, in)
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := domain.NewSession(uuid.New().String(), in.TeamID, exercise, theme, now)
	session.PhaseStartTimes[domain.PhaseKey(1)] = now
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	log.Printf("created session %s for team %s (exercise %s)", session.ID, in.TeamID, exercise.ID)
	return &InitResult{
		Session: session,
		Phases:  m.vault.PhasesFor(exercise.ID),
	}, nil
}

func (m *Manager) resolveAssignment(ctx context.Context, in InitInput) (domain.Exercise, domain.Theme, error) {
	if in.ExerciseID != "" {
		exercise, ok := m.vault.ExerciseByID(in.ExerciseID)
		if !ok {
			return domain.Exercise{}, domain.Theme{}, fmt.Errorf("exercise %s: %w", in.ExerciseID, ports.ErrNotFound)
		}
		theme, ok := m.vault.ThemeByID(in.ThemeID)
		if !ok {
			if theme, ok = m.vault.ThemeByID(in.ExerciseID + "_theme"); !ok {
				themes := m.vault.Themes()
				if len(themes) > 0 {
					theme = themes[m.pick(len(themes))]
				}
			}
		}
		return exercise, theme, nil
	}

	// No explicit pick: reuse the team's stable assignment or make one.
	if tc, err := m.teams.Get(ctx, in.TeamID); err == nil {
		return tc.Exercise, tc.Theme, nil
	} else if !errors.Is(err, ports.ErrNotFound) {
		return domain.Exercise{}, domain.Theme{}, err
	}

	m.rngMu.Lock()
	exercise, theme, err := m.vault.PickAssignment(m.rng)
	m.rngMu.Unlock()
	if err != nil {
		return domain.Exercise{}, domain.Theme{}, err
	}
	tc := &domain.TeamContext{TeamID: in.TeamID, Exercise: exercise, Theme: theme, CreatedAt: m.now()}
	if err := m.teams.Put(ctx, tc); err != nil {
		return domain.Exercise{}, domain.Theme{}, fmt.Errorf("persist team assignment: %w", err)
	}
	return exercise, theme, nil
}

// SessionCheck summarises a team's latest session for pre-start warnings.
type SessionCheck struct {
	HasSession      bool
	IsComplete      bool
	SessionID       string
	ExerciseID      string
	ExerciseTitle   string
	CurrentPhase    int
	TotalScore      int
	PhasesCompleted int
	PhaseScores     map[string]float64
}

// CheckSession reports whether a team has a session worth resuming.
func (m *Manager) CheckSession(ctx context.Context, teamID string) (*SessionCheck, error) {
	session, err := m.sessions.GetLatestForTeam(ctx, teamID)
	if errors.Is(err, ports.ErrNotFound) {
		return &SessionCheck{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &SessionCheck{
		HasSession:      true,
		IsComplete:      session.IsComplete,
		SessionID:       session.ID,
		ExerciseID:      session.Exercise.ID,
		ExerciseTitle:   session.Exercise.Title,
		CurrentPhase:    session.CurrentPhase,
		TotalScore:      int(session.TotalScore),
		PhasesCompleted: len(session.PhaseScores),
		PhaseScores:     session.PhaseScores,
	}, nil
}

// StartPhaseInput enters a phase, optionally pausing the one being left.
type StartPhaseInput struct {
	SessionID             string
	PhaseNumber           int
	LeavingPhaseNumber    int
	LeavingElapsedSeconds *float64
	LeavingResponses      []domain.PhaseResponse
}

// StartPhaseResult is what a client needs to render the entered phase.
type StartPhaseResult struct {
	PhaseID           string
	PhaseName         string
	Questions         []domain.Question
	TimeLimitSeconds  float64
	StartedAt         time.Time
	ServerTime        time.Time
	ElapsedSeconds    float64
	PreviousResponses []domain.PhaseResponse
}

// StartPhase enters a phase and starts a fresh timer segment. Leaving-phase
// state is paused first: its reported elapsed time is stored after clamping
// against server wall time, and unsubmitted answers are kept as drafts.
// Re-entering a failed phase resets its accumulated time.
func (m *Manager) StartPhase(ctx context.Context, in StartPhaseInput) (*StartPhaseResult, error) {
	var result *StartPhaseResult
	err := m.mutateSession(ctx, in.SessionID, func(session *domain.Session) error {
		phases := m.vault.PhasesFor(session.Exercise.ID)
		def, ok := phases[in.PhaseNumber]
		if !ok {
			return fmt.Errorf("phase %d: %w", in.PhaseNumber, ErrInvalidPhase)
		}
		now := m.now()

		if in.LeavingPhaseNumber > 0 {
			m.pauseLeavingPhase(session, phases, in, now)
		}

		key := domain.PhaseKey(in.PhaseNumber)
		data := session.Phases[def.Name]
		if data != nil && data.Status == domain.PhaseFailed {
			// Retry starts the clock over.
			session.PhaseElapsedSeconds[key] = 0
		}
		session.PhaseStartTimes[key] = now
		session.CurrentPhase = in.PhaseNumber

		var previous []domain.PhaseResponse
		if data != nil {
			previous = data.Responses
		}
		result = &StartPhaseResult{
			PhaseID:           phaseID(def, in.PhaseNumber),
			PhaseName:         def.Name,
			Questions:         questionsForClient(def),
			TimeLimitSeconds:  def.TimeLimitSeconds,
			StartedAt:         now,
			ServerTime:        now,
			ElapsedSeconds:    session.PhaseElapsedSeconds[key],
			PreviousResponses: previous,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) pauseLeavingPhase(session *domain.Session, phases map[int]domain.PhaseDef, in StartPhaseInput, now time.Time) {
	leavingKey := domain.PhaseKey(in.LeavingPhaseNumber)

	if in.LeavingElapsedSeconds != nil {
		reported := *in.LeavingElapsedSeconds
		ceiling := session.PhaseElapsedSeconds[leavingKey] + clockSkewTolerance.Seconds()
		if start, ok := session.PhaseStartTimes[leavingKey]; ok {
			ceiling += now.Sub(start).Seconds()
		}
		if reported > ceiling {
			log.Printf("session %s: clamping reported elapsed %.1fs to %.1fs for %s",
				session.ID, reported, ceiling, leavingKey)
			reported = ceiling
		}
		if reported < 0 {
			reported = 0
		}
		session.PhaseElapsedSeconds[leavingKey] = reported
	} else if start, ok := session.PhaseStartTimes[leavingKey]; ok {
		session.PhaseElapsedSeconds[leavingKey] += now.Sub(start).Seconds()
	}

	if len(in.LeavingResponses) == 0 {
		return
	}
	def, ok := phases[in.LeavingPhaseNumber]
	if !ok {
		return
	}
	data := session.Phases[def.Name]
	switch {
	case data == nil:
		session.Phases[def.Name] = &domain.PhaseData{
			PhaseID:   phaseID(def, in.LeavingPhaseNumber),
			Status:    domain.PhaseInProgress,
			Responses: in.LeavingResponses,
		}
	case data.Status != domain.PhasePassed:
		// Drafts never overwrite a passed submission.
		data.Responses = in.LeavingResponses
	}
}

// EffectiveElapsed is the total time charged to a phase right now:
// accumulated paused time plus the running segment.
func (m *Manager) EffectiveElapsed(session *domain.Session, phaseNumber int) float64 {
	key := domain.PhaseKey(phaseNumber)
	elapsed := session.PhaseElapsedSeconds[key]
	if start, ok := session.PhaseStartTimes[key]; ok {
		if segment := m.now().Sub(start).Seconds(); segment > 0 {
			elapsed += segment
		}
	}
	return elapsed
}

// HintResult is an unlocked hint plus the penalty it will cost at scoring.
type HintResult struct {
	Hint    string
	Penalty float64
}

// UnlockHint reveals a question's hint and records the unlock on the phase's
// draft responses so the penalty sticks even if the team never resubmits the
// flag themselves.
func (m *Manager) UnlockHint(ctx context.Context, sessionID string, phaseNumber, questionIndex int) (*HintResult, error) {
	var result *HintResult
	err := m.mutateSession(ctx, sessionID, func(session *domain.Session) error {
		phases := m.vault.PhasesFor(session.Exercise.ID)
		def, ok := phases[phaseNumber]
		if !ok {
			return fmt.Errorf("phase %d: %w", phaseNumber, ErrInvalidPhase)
		}
		if questionIndex < 0 || questionIndex >= len(def.Questions) {
			return fmt.Errorf("question %d: %w", questionIndex, ErrInvalidPhase)
		}

		data := session.Phases[def.Name]
		if data == nil {
			data = &domain.PhaseData{
				PhaseID: phaseID(def, phaseNumber),
				Status:  domain.PhaseInProgress,
			}
			session.Phases[def.Name] = data
		}
		for len(data.Responses) <= questionIndex {
			q := def.Questions[len(data.Responses)]
			data.Responses = append(data.Responses, domain.PhaseResponse{QuestionID: q.ID, Q: q.Text})
		}
		if data.Status != domain.PhasePassed {
			data.Responses[questionIndex].HintUsed = true
		}

		result = &HintResult{
			Hint:    def.Questions[questionIndex].Hint,
			Penalty: def.HintPenaltyFor(questionIndex),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SubmitInput is one attempt at a phase.
type SubmitInput struct {
	SessionID string
	PhaseName string
	Responses []domain.PhaseResponse
	Image     *judge.ImageAttachment
}

// SubmitResult mirrors everything a client shows after judging.
type SubmitResult struct {
	Passed        bool
	AIScore       float64
	PhaseScore    float64
	TotalScore    int
	Feedback      string
	Rationale     string
	Strengths     []string
	Improvements  []string
	Breakdown     domain.ScoreBreakdown
	TotalTokens   int64
	ExtraAITokens int64
	CanProceed    bool
	IsFinalPhase  bool
	Degraded      bool
}

// SubmitPhase judges an attempt and folds the outcome into the session.
// Identical answers to an already-passed phase short-circuit without another
// judge call. Judging runs outside the session lock; the session is re-read
// before the result is folded in, with a bounded retry on write conflicts.
func (m *Manager) SubmitPhase(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	session, err := m.sessions.GetByID(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	phases := m.vault.PhasesFor(session.Exercise.ID)
	phaseNumber, def, err := phaseByName(phases, in.PhaseName)
	if err != nil {
		return nil, err
	}
	now := m.now()
	elapsed := m.EffectiveElapsed(session, phaseNumber)
	isFinal := phaseNumber >= len(phases)

	prior := session.Phases[def.Name]
	if prior != nil && prior.Status == domain.PhasePassed && prior.SameAnswers(in.Responses) {
		return m.idempotentResult(session, prior, def, isFinal), nil
	}

	retries := prior.RetriesSoFar()
	if retries >= m.scoring.MaxRetries {
		return m.retriesExhaustedResult(session, prior, isFinal), nil
	}

	var totalChars int
	for _, r := range in.Responses {
		totalChars += len(r.A)
	}
	answerTokens := int64(totalChars / 4)

	hintPenalty := 0.0
	for i, r := range in.Responses {
		if r.HintUsed {
			hintPenalty += def.HintPenaltyFor(i)
		}
	}

	evalCtx, cancel := context.WithTimeout(ctx, m.dispatchTimeout)
	defer cancel()
	sub := buildSubmission(session, def, in)
	evalResult, evalErr := m.submit(evalCtx, func(ctx context.Context) (evaluator.Result, error) {
		return m.eval.Evaluate(ctx, sub)
	})

	degraded := false
	if evalErr != nil {
		if errors.Is(evalErr, resilience.ErrTimeout) || errors.Is(evalErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("judging %s: %w", def.Name, evalErr)
		}
		// Judge unavailable: award a provisional middle score rather than
		// blocking the session.
		log.Printf("session %s: degraded evaluation for %s: %v", session.ID, def.Name, evalErr)
		degraded = true
		evalResult = evaluator.Result{
			Score:     0.5,
			Rationale: "Judging service unavailable; a provisional score was assigned.",
			Feedback:  "The evaluation pipeline failed. A provisional middle score stands until a resubmission is judged.",
		}
	}

	scoreIn := domain.ScoreInput{
		AIScore:          evalResult.Score,
		Retries:          retries,
		DurationSeconds:  elapsed,
		TokenCount:       answerTokens,
		PhaseWeight:      def.Weight,
		TimeLimitSeconds: def.TimeLimitSeconds,
		HintPenalty:      hintPenalty,
		InputTokens:      evalResult.Usage.InputTokens,
		OutputTokens:     evalResult.Usage.OutputTokens,
	}
	if evalResult.Visual != nil {
		visual := evalResult.Visual.Score
		scoreIn.VisualScore = &visual
	}
	scored := m.scoring.ScorePhase(scoreIn)

	passed := m.scoring.Pass(evalResult.Score, retries)
	feedback := evalResult.Feedback
	if !passed && m.allowFailProceed {
		passed = true
		feedback += " (Forced proceed enabled in settings)"
	}

	data := &domain.PhaseData{
		PhaseID:      phaseID(def, phaseNumber),
		Status:       domain.PhaseFailed,
		Responses:    in.Responses,
		Metrics:      scored.Metrics,
		Feedback:     feedback,
		Rationale:    evalResult.Rationale,
		Strengths:    evalResult.Strengths,
		Improvements: evalResult.Improvements,
	}
	if passed {
		data.Status = domain.PhasePassed
	}
	if evalResult.Visual != nil {
		data.Metrics.VisualFeedback = evalResult.Visual.Feedback
		data.Metrics.VisualAlignment = evalResult.Visual.Alignment
	}

	var out *SubmitResult
	err = m.mutateSession(ctx, in.SessionID, func(fresh *domain.Session) error {
		if existing := fresh.Phases[def.Name]; existing != nil {
			if existing.Status.Terminal() {
				data.History = append(append([]domain.PhaseMetric{}, existing.History...), existing.Metrics)
			} else {
				data.History = existing.History
			}
		}
		fresh.Phases[def.Name] = data
		fresh.PhaseScores[def.Name] = scored.WeightedScore
		fresh.TotalScore = m.scoring.TotalScore(fresh.PhaseScores)
		aiTokens := evalResult.Usage.InputTokens + evalResult.Usage.OutputTokens
		fresh.TotalTokens += aiTokens
		fresh.ExtraAITokens += aiTokens

		if passed && !isFinal {
			next := phaseNumber + 1
			fresh.PhaseStartTimes[domain.PhaseKey(next)] = now
			fresh.PhaseElapsedSeconds[domain.PhaseKey(next)] = 0
			fresh.CurrentPhase = next
		}
		if passed && isFinal {
			fresh.IsComplete = true
		}

		out = &SubmitResult{
			Passed:        passed,
			AIScore:       evalResult.Score,
			PhaseScore:    scored.WeightedScore,
			TotalScore:    int(fresh.TotalScore),
			Feedback:      feedback,
			Rationale:     evalResult.Rationale,
			Strengths:     evalResult.Strengths,
			Improvements:  evalResult.Improvements,
			Breakdown:     scored.Breakdown,
			TotalTokens:   fresh.TotalTokens,
			ExtraAITokens: fresh.ExtraAITokens,
			CanProceed:    passed && !isFinal,
			IsFinalPhase:  isFinal,
			Degraded:      degraded,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.RecordEvaluation(ctx, phaseID(def, phaseNumber), evalResult.Score, elapsed, degraded)
		m.metrics.RecordJudgeTokens(ctx, evalResult.Usage.InputTokens, evalResult.Usage.OutputTokens)
	}
	return out, nil
}

// retriesExhaustedResult terminates a phase without spending a judge call.
// The forced-proceed policy decides whether the team may continue anyway.
func (m *Manager) retriesExhaustedResult(session *domain.Session, prior *domain.PhaseData, isFinal bool) *SubmitResult {
	var metrics domain.PhaseMetric
	if prior != nil {
		metrics = prior.Metrics
	}
	return &SubmitResult{
		Passed:        false,
		AIScore:       metrics.AIScore,
		PhaseScore:    metrics.WeightedScore,
		TotalScore:    int(session.TotalScore),
		Feedback:      "Retry limit reached; this phase is closed to further submissions.",
		Rationale:     "No judging performed: the maximum number of attempts was already used.",
		TotalTokens:   session.TotalTokens,
		ExtraAITokens: session.ExtraAITokens,
		CanProceed:    m.allowFailProceed && !isFinal,
		IsFinalPhase:  isFinal,
	}
}

func (m *Manager) idempotentResult(session *domain.Session, prior *domain.PhaseData, def domain.PhaseDef, isFinal bool) *SubmitResult {
	feedback := prior.Feedback
	if feedback == "" {
		feedback = "Re-authenticated existing submission."
	}
	rationale := prior.Rationale
	if rationale == "" {
		rationale = "Re-using previous evaluation trace."
	}
	return &SubmitResult{
		Passed:       true,
		AIScore:      prior.Metrics.AIScore,
		PhaseScore:   prior.Metrics.WeightedScore,
		TotalScore:   int(session.TotalScore),
		Feedback:     feedback,
		Rationale:    rationale,
		Strengths:    prior.Strengths,
		Improvements: prior.Improvements,
		Breakdown: domain.ScoreBreakdown{
			AIQualityPoints: prior.Metrics.AIScore * m.scoring.MaxAIPoints,
			TimePenalty:     prior.Metrics.TimePenalty,
			RetryPenalty:    prior.Metrics.RetryPenalty,
			Retries:         prior.Metrics.Retries,
			HintPenalty:     prior.Metrics.HintPenalty,
			EfficiencyBonus: prior.Metrics.EfficiencyBonus,
			PhaseWeight:     def.Weight,
			MaxPhaseScore:   def.Weight * m.scoring.MaxAIPoints,
			DurationSeconds: prior.Metrics.DurationSeconds,
			TokensUsed:      prior.Metrics.TokensUsed,
			InputTokens:     prior.Metrics.InputTokens,
			OutputTokens:    prior.Metrics.OutputTokens,
			TotalAITokens:   prior.Metrics.InputTokens + prior.Metrics.OutputTokens,
		},
		TotalTokens:   session.TotalTokens,
		ExtraAITokens: session.ExtraAITokens,
		CanProceed:    true,
		IsFinalPhase:  isFinal,
	}
}

// GetSession returns a session by id.
func (m *Manager) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return m.sessions.GetByID(ctx, id)
}

// DeleteSession removes a session.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	return m.sessions.Delete(ctx, id)
}

// mutateSession re-reads, mutates and CAS-writes a session, retrying a
// bounded number of times when another writer got there first.
func (m *Manager) mutateSession(ctx context.Context, id string, mutate func(*domain.Session) error) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		session, err := m.sessions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(session); err != nil {
			return err
		}
		session.UpdatedAt = m.now()
		err = m.sessions.Update(ctx, session)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ports.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("session %s kept changing underneath us: %w", id, lastErr)
}

func (m *Manager) pick(n int) int {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Intn(n)
}

func phaseByName(phases map[int]domain.PhaseDef, name string) (int, domain.PhaseDef, error) {
	nums := make([]int, 0, len(phases))
	for n := range phases {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		if phases[n].Name == name {
			return n, phases[n], nil
		}
	}
	return 0, domain.PhaseDef{}, fmt.Errorf("phase %q: %w", name, ErrInvalidPhase)
}

func phaseID(def domain.PhaseDef, number int) string {
	if def.ID != "" {
		return def.ID
	}
	return domain.PhaseKey(number)
}

func questionsForClient(def domain.PhaseDef) []domain.Question {
	out := make([]domain.Question, 0, len(def.Questions))
	for _, q := range def.Questions {
		// Hints stay server-side until unlocked.
		out = append(out, domain.Question{ID: q.ID, Text: q.Text, Criteria: q.Criteria})
	}
	return out
}

func buildSubmission(session *domain.Session, def domain.PhaseDef, in SubmitInput) evaluator.Submission {
	answers := make([]evaluator.AnswerCriteria, 0, len(in.Responses))
	for i, r := range in.Responses {
		criteria := ""
		question := r.Q
		if i < len(def.Questions) {
			criteria = def.Questions[i].Criteria
			if question == "" {
				question = def.Questions[i].Text
			}
		}
		answers = append(answers, evaluator.AnswerCriteria{Question: question, Criteria: criteria, Answer: r.A})
	}
	sub := evaluator.Submission{
		ExerciseTitle:  session.Exercise.Title,
		ExerciseDomain: session.Exercise.Domain,
		PhaseName:      def.Name,
		PhaseObjective: def.Description,
		Answers:        answers,
	}
	if in.Image != nil {
		sub.Image = in.Image
	}
	return sub
}
