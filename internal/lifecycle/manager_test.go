package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pitchforge/engine/internal/domain"
	"github.com/pitchforge/engine/internal/evaluator"
	"github.com/pitchforge/engine/internal/judge"
	"github.com/pitchforge/engine/internal/lifecycle"
	"github.com/pitchforge/engine/internal/ports"
	"github.com/pitchforge/engine/internal/resilience"
	"github.com/pitchforge/engine/internal/vault"
)

// memSessionRepo is an in-memory stand-in with the same optimistic
// concurrency semantics as the real store.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[string]*domain.Session{}}
}

func cloneSession(s *domain.Session) *domain.Session {
	c := *s
	c.Phases = map[string]*domain.PhaseData{}
	for k, v := range s.Phases {
		pd := *v
		pd.Responses = append([]domain.PhaseResponse{}, v.Responses...)
		pd.History = append([]domain.PhaseMetric{}, v.History...)
		c.Phases[k] = &pd
	}
	c.PhaseScores = map[string]float64{}
	for k, v := range s.PhaseScores {
		c.PhaseScores[k] = v
	}
	c.PhaseStartTimes = map[string]time.Time{}
	for k, v := range s.PhaseStartTimes {
		c.PhaseStartTimes[k] = v
	}
	c.PhaseElapsedSeconds = map[string]float64{}
	for k, v := range s.PhaseElapsedSeconds {
		c.PhaseElapsedSeconds[k] = v
	}
	return &c
}

func (r *memSessionRepo) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Version = 1
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *memSessionRepo) GetByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return cloneSession(s), nil
}

func (r *memSessionRepo) Update(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[s.ID]
	if !ok {
		return ports.ErrNotFound
	}
	if stored.Version != s.Version {
		return ports.ErrVersionConflict
	}
	s.Version++
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *memSessionRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ports.ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) ListAll(_ context.Context) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		out = append(out, cloneSession(s))
	}
	return out, nil
}

func (r *memSessionRepo) CountAll(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.sessions)), nil
}

func (r *memSessionRepo) GetBestPerTeam(_ context.Context, _ int) ([]*domain.Session, error) {
	return nil, nil
}

func (r *memSessionRepo) GetLatestForTeam(_ context.Context, teamID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Session
	for _, s := range r.sessions {
		if s.TeamID != teamID {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ports.ErrNotFound
	}
	return cloneSession(latest), nil
}

type memTeamRepo struct {
	mu       sync.Mutex
	contexts map[string]*domain.TeamContext
}

func (r *memTeamRepo) Get(_ context.Context, teamID string) (*domain.TeamContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tc, ok := r.contexts[teamID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return tc, nil
}

func (r *memTeamRepo) Put(_ context.Context, tc *domain.TeamContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.contexts == nil {
		r.contexts = map[string]*domain.TeamContext{}
	}
	r.contexts[tc.TeamID] = tc
	return nil
}

type stubEvaluator struct {
	mu         sync.Mutex
	score      float64
	err        error
	calls      int
	lastIn     evaluator.Submission
	onEvaluate func()
}

func (s *stubEvaluator) Evaluate(_ context.Context, sub evaluator.Submission) (evaluator.Result, error) {
	s.mu.Lock()
	s.calls++
	s.lastIn = sub
	hook := s.onEvaluate
	err := s.err
	score := s.score
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return evaluator.Result{}, err
	}
	return evaluator.Result{
		Score:     score,
		Rationale: "stub rationale",
		Feedback:  "stub feedback",
		Strengths: []string{"clear"},
		Usage:     judge.Usage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

type fixture struct {
	manager  *lifecycle.Manager
	sessions *memSessionRepo
	eval     *stubEvaluator
	clock    *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func contentDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "orbital-bakery")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"exercise.json": `{"title": "Orbital Bakery", "domain": "food tech", "description": "Bread in space."}`,
		"theme.json":    `{"id": "orbital-bakery_theme", "colors": {"primary": "#aa5500"}}`,
		"phases.json": `{
			"1": {"name": "Problem Framing", "description": "Define the pain", "weight": 0.33, "time_limit_seconds": 300,
				"questions": [{"id": "q1", "text": "Who hurts?", "criteria": "specificity", "hint": "think customers", "hint_penalty": 30}]},
			"2": {"name": "Solution", "description": "Build the answer", "weight": 0.33, "time_limit_seconds": 600,
				"questions": [{"id": "q1", "text": "What do you build?"}]}
		}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newFixture(t *testing.T, opts lifecycle.Options) *fixture {
	t.Helper()
	v, err := vault.Load(contentDir(t))
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	opts.Now = clock.Now
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	sessions := newMemSessionRepo()
	eval := &stubEvaluator{score: 0.85}
	m := lifecycle.NewManager(sessions, &memTeamRepo{}, v, eval, nil, nil, opts)
	return &fixture{manager: m, sessions: sessions, eval: eval, clock: clock}
}

func initSession(t *testing.T, f *fixture) *domain.Session {
	t.Helper()
	res, err := f.manager.InitSession(context.Background(), lifecycle.InitInput{TeamID: "team-a"})
	if err != nil {
		t.Fatalf("InitSession: %v", err)
	}
	return res.Session
}

func answers(text string) []domain.PhaseResponse {
	return []domain.PhaseResponse{{QuestionID: "q1", Q: "Who hurts?", A: text}}
}

func TestInitCreatesAndResumes(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	first, err := f.manager.InitSession(ctx, lifecycle.InitInput{TeamID: "team-a"})
	if err != nil {
		t.Fatalf("InitSession: %v", err)
	}
	if first.Resumed {
		t.Error("first init must create, not resume")
	}
	if first.Session.CurrentPhase != 1 {
		t.Errorf("CurrentPhase = %d", first.Session.CurrentPhase)
	}
	if _, ok := first.Session.PhaseStartTimes[domain.PhaseKey(1)]; !ok {
		t.Error("phase 1 start time not stamped")
	}
	if len(first.Phases) != 2 {
		t.Errorf("phases = %d, want 2", len(first.Phases))
	}

	second, err := f.manager.InitSession(ctx, lifecycle.InitInput{TeamID: "team-a"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Resumed || second.Session.ID != first.Session.ID {
		t.Errorf("second init should resume %s, got %s (resumed=%v)",
			first.Session.ID, second.Session.ID, second.Resumed)
	}

	same, err := f.manager.InitSession(ctx, lifecycle.InitInput{TeamID: "team-a", ExerciseID: "orbital-bakery"})
	if err != nil {
		t.Fatal(err)
	}
	if !same.Resumed {
		t.Error("matching exercise id should still resume")
	}
}

func TestCheckSession(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	check, err := f.manager.CheckSession(ctx, "team-a")
	if err != nil {
		t.Fatal(err)
	}
	if check.HasSession {
		t.Error("no session yet")
	}

	s := initSession(t, f)
	check, err = f.manager.CheckSession(ctx, "team-a")
	if err != nil {
		t.Fatal(err)
	}
	if !check.HasSession || check.SessionID != s.ID || check.ExerciseTitle != "Orbital Bakery" {
		t.Errorf("check = %+v", check)
	}
}

func TestStartPhaseHidesHints(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)

	res, err := f.manager.StartPhase(context.Background(), lifecycle.StartPhaseInput{SessionID: s.ID, PhaseNumber: 1})
	if err != nil {
		t.Fatalf("StartPhase: %v", err)
	}
	if res.PhaseName != "Problem Framing" || res.TimeLimitSeconds != 300 {
		t.Errorf("res = %+v", res)
	}
	if len(res.Questions) != 1 || res.Questions[0].Hint != "" {
		t.Error("hints must stay server-side until unlocked")
	}
}

func TestStartPhaseInvalidNumber(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)

	_, err := f.manager.StartPhase(context.Background(), lifecycle.StartPhaseInput{SessionID: s.ID, PhaseNumber: 9})
	if !errors.Is(err, lifecycle.ErrInvalidPhase) {
		t.Errorf("err = %v, want ErrInvalidPhase", err)
	}
}

func TestStartPhasePausesLeavingAndClampsSkew(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)
	ctx := context.Background()

	if _, err := f.manager.StartPhase(ctx, lifecycle.StartPhaseInput{SessionID: s.ID, PhaseNumber: 1}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(60 * time.Second)

	// Client claims ten minutes elapsed; the server only saw one.
	reported := 600.0
	_, err := f.manager.StartPhase(ctx, lifecycle.StartPhaseInput{
		SessionID:             s.ID,
		PhaseNumber:           2,
		LeavingPhaseNumber:    1,
		LeavingElapsedSeconds: &reported,
		LeavingResponses:      answers("draft answer"),
	})
	if err != nil {
		t.Fatal(err)
	}

	stored, err := f.manager.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := stored.PhaseElapsedSeconds[domain.PhaseKey(1)]
	if got > 66 {
		t.Errorf("elapsed = %.1f, want clamped near 65s (60s wall + skew)", got)
	}
	if got < 60 {
		t.Errorf("elapsed = %.1f, clamp removed real time", got)
	}
	if stored.CurrentPhase != 2 {
		t.Errorf("CurrentPhase = %d, want 2", stored.CurrentPhase)
	}
	draft := stored.Phases["Problem Framing"]
	if draft == nil || draft.Status != domain.PhaseInProgress || draft.Responses[0].A != "draft answer" {
		t.Errorf("draft not saved: %+v", draft)
	}

	// Returning resumes accumulated time rather than resetting it.
	back, err := f.manager.StartPhase(ctx, lifecycle.StartPhaseInput{SessionID: s.ID, PhaseNumber: 1, LeavingPhaseNumber: 2})
	if err != nil {
		t.Fatal(err)
	}
	if back.ElapsedSeconds < 60 {
		t.Errorf("ElapsedSeconds = %.1f, accumulated time lost", back.ElapsedSeconds)
	}
	if len(back.PreviousResponses) != 1 {
		t.Error("previous draft responses not returned")
	}
}

func TestSubmitPassAdvancesPhase(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)
	ctx := context.Background()

	f.clock.Advance(120 * time.Second)
	res, err := f.manager.SubmitPhase(ctx, lifecycle.SubmitInput{
		SessionID: s.ID,
		PhaseName: "Problem Framing",
		Responses: answers(strings.Repeat("astronauts need bread ", 30)),
	})
	if err != nil {
		t.Fatalf("SubmitPhase: %v", err)
	}
	if !res.Passed || !res.CanProceed || res.IsFinalPhase {
		t.Errorf("res = %+v", res)
	}
	if res.AIScore != 0.85 {
		t.Errorf("AIScore = %v", res.AIScore)
	}
	// 0.85*1000 = 850, within limit, tokens 660/4=165 in optimal range:
	// bonus 42.5, raw 892.5, weighted round(min(892.5*0.33, 330)) = 295.
	if res.PhaseScore != 295 {
		t.Errorf("PhaseScore = %v, want 295", res.PhaseScore)
	}

	stored, _ := f.manager.GetSession(ctx, s.ID)
	if stored.CurrentPhase != 2 {
		t.Errorf("CurrentPhase = %d, want advanced to 2", stored.CurrentPhase)
	}
	if stored.Phases["Problem Framing"].Status != domain.PhasePassed {
		t.Error("phase not marked passed")
	}
	if _, ok := stored.PhaseStartTimes[domain.PhaseKey(2)]; !ok {
		t.Error("next phase timer not stamped")
	}
	if stored.TotalTokens != 150 {
		t.Errorf("TotalTokens = %d, want judge usage accumulated", stored.TotalTokens)
	}
	if f.eval.lastIn.ExerciseTitle != "Orbital Bakery" || f.eval.lastIn.Answers[0].Criteria != "specificity" {
		t.Errorf("submission context not forwarded: %+v", f.eval.lastIn)
	}
}

func TestSubmitFinalPhaseCompletes(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)
	ctx := context.Background()

	if _, err := f.manager.SubmitPhase(ctx, lifecycle.SubmitInput{SessionID: s.ID, PhaseName: "Problem Framing", Responses: answers("a")}); err != nil {
		t.Fatal(err)
	}
	res, err := f.manager.SubmitPhase(ctx, lifecycle.SubmitInput{
		SessionID: s.ID,
		PhaseName: "Solution",
		Responses: []domain.PhaseResponse{{QuestionID: "q1", A: "sourdough robots"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || !res.IsFinalPhase || res.CanProceed {
		t.Errorf("res = %+v", res)
	}

	stored, _ := f.manager.GetSession(ctx, s.ID)
	if !stored.IsComplete {
		t.Error("session not marked complete after final pass")
	}
}

func TestSubmitIdempotentResubmission(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)
	ctx := context.Background()

	in := lifecycle.SubmitInput{SessionID: s.ID, PhaseName: "Problem Framing", Responses: answers("final answer")}
	first, err := f.manager.SubmitPhase(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := f.eval.calls

	second, err := f.manager.SubmitPhase(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if f.eval.calls != callsAfterFirst {
		t.Error("identical passed answers must not be judged again")
	}
	if !second.Passed || second.PhaseScore != first.PhaseScore {
		t.Errorf("second = %+v, want stored result", second)
	}
	if second.Breakdown != first.Breakdown {
		t.Errorf("Breakdown = %+v, want identical to first %+v", second.Breakdown, first.Breakdown)
	}
	if second.Breakdown.MaxPhaseScore != 330 {
		t.Errorf("MaxPhaseScore = %v, want 330", second.Breakdown.MaxPhaseScore)
	}

	// A changed answer is a real resubmission.
	changed := lifecycle.SubmitInput{SessionID: s.ID, PhaseName: "Problem Framing", Responses: answers("different answer")}
	if _, err := f.manager.SubmitPhase(ctx, changed); err != nil {
		t.Fatal(err)
	}
	if f.eval.calls != callsAfterFirst+1 {
		t.Error("changed answers should be judged")
	}
}

func TestSubmitFailureRecordsHistoryAndMercy(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)
	ctx := context.Background()
	f.eval.score = 0.5

	for attempt := 1; attempt <= 2; attempt++ {
		res, err := f.manager.SubmitPhase(ctx, lifecycle.SubmitInput{
			SessionID: s.ID,
			PhaseName: "Problem Framing",
			Responses: answers(fmt.Sprintf("weak answer %d", attempt)),
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Passed {
			t.Fatalf("attempt %d with score 0.5 must fail", attempt)
		}
	}

	stored, _ := f.manager.GetSession(ctx, s.ID)
	data := stored.Phases["Problem Framing"]
	if data.Status != domain.PhaseFailed {
		t.Errorf("Status = %s", data.Status)
	}
	if len(data.History) != 1 {
		t.Errorf("History = %d entries, want prior terminal attempt", len(data.History))
	}
	if data.RetriesSoFar() != 2 {
		t.Errorf("RetriesSoFar = %d, want 2", data.RetriesSoFar())
	}

	// Third attempt: retries=2 triggers the mercy rule at 0.5 >= 0.45.
	res, err := f.manager.SubmitPhase(ctx, lifecycle.SubmitInput{
		SessionID: s.ID,
		PhaseName: "Problem Framing",
		Responses: answers("third try"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Error("mercy rule should pass 0.5 at 2 retries")
	}
	if res.Breakdown.Retries != 2 {
		t.Errorf("Breakdown.Retries = %d", res.Breakdown.Retries)
	}
}

func TestSubmitRetriesExhausted(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)
	ctx := context.Background()
	f.eval.score = 0.1 // below mercy threshold, every attempt fails

	for attempt := 1; attempt <= 3; attempt++ {
		if _, err := f.manager.SubmitPhase(ctx, lifecycle.SubmitInput{
			SessionID: s.ID,
			PhaseName: "Problem Framing",
			Responses: answers(fmt.Sprintf("bad %d", attempt)),
		}); err != nil {
			t.Fatal(err)
		}
	}
	callsAfterThree := f.eval.calls

	res, err := f.manager.SubmitPhase(ctx, lifecycle.SubmitInput{
		SessionID: s.ID,
		PhaseName: "Problem Framing",
		Responses: answers("bad 4"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.eval.calls != callsAfterThree {
		t.Error("exhausted retries must not spend a judge call")
	}
	if res.Passed || res.CanProceed {
		t.Errorf("res = %+v, want terminal failure", res)
	}
}

func TestSubmitForcedProceed(t *testing.T) {
	f := newFixture(t, lifecycle.Options{AllowFailProceed: true})
	s := initSession(t, f)
	f.eval.score = 0.1

	res, err := f.manager.SubmitPhase(context.Background(), lifecycle.SubmitInput{
		SessionID: s.ID,
		PhaseName: "Problem Framing",
		Responses: answers("hopeless"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || !res.CanProceed {
		t.Errorf("res = %+v, want forced proceed", res)
	}
	if !strings.Contains(res.Feedback, "Forced proceed") {
		t.Errorf("Feedback = %q, want forced-proceed note", res.Feedback)
	}
}

func TestSubmitDegradesWhenJudgeUnavailable(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)
	f.eval.err = errors.New("judge exploded")

	res, err := f.manager.SubmitPhase(context.Background(), lifecycle.SubmitInput{
		SessionID: s.ID,
		PhaseName: "Problem Framing",
		Responses: answers("an answer"),
	})
	if err != nil {
		t.Fatalf("degraded path must not error: %v", err)
	}
	if !res.Degraded {
		t.Error("Degraded flag not set")
	}
	if res.AIScore != 0.5 {
		t.Errorf("AIScore = %v, want provisional 0.5", res.AIScore)
	}
	if res.Passed {
		t.Error("provisional 0.5 is below the pass threshold on a first attempt")
	}
}

func TestSubmitTimeoutSurfaces(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)
	f.eval.err = fmt.Errorf("judging: %w", resilience.ErrTimeout)

	_, err := f.manager.SubmitPhase(context.Background(), lifecycle.SubmitInput{
		SessionID: s.ID,
		PhaseName: "Problem Framing",
		Responses: answers("an answer"),
	})
	if !errors.Is(err, resilience.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout to surface", err)
	}
}

func TestSubmitUnknownPhase(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)

	_, err := f.manager.SubmitPhase(context.Background(), lifecycle.SubmitInput{
		SessionID: s.ID,
		PhaseName: "No Such Phase",
		Responses: answers("x"),
	})
	if !errors.Is(err, lifecycle.ErrInvalidPhase) {
		t.Errorf("err = %v, want ErrInvalidPhase", err)
	}
}

func TestUnlockHintAppliesPenaltyAtSubmit(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)
	ctx := context.Background()

	hint, err := f.manager.UnlockHint(ctx, s.ID, 1, 0)
	if err != nil {
		t.Fatalf("UnlockHint: %v", err)
	}
	if hint.Hint != "think customers" || hint.Penalty != 30 {
		t.Errorf("hint = %+v", hint)
	}

	stored, _ := f.manager.GetSession(ctx, s.ID)
	draft := stored.Phases["Problem Framing"]
	if draft == nil || !draft.Responses[0].HintUsed {
		t.Fatal("hint unlock not autosaved on draft")
	}

	resp := answers("guided answer")
	resp[0].HintUsed = true
	res, err := f.manager.SubmitPhase(ctx, lifecycle.SubmitInput{SessionID: s.ID, PhaseName: "Problem Framing", Responses: resp})
	if err != nil {
		t.Fatal(err)
	}
	if res.Breakdown.HintPenalty != 30 {
		t.Errorf("HintPenalty = %v, want declared 30", res.Breakdown.HintPenalty)
	}
}

func TestInitSessionConcurrentTeams(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8*20)
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				team := fmt.Sprintf("team-%d-%d", worker, j)
				res, err := f.manager.InitSession(ctx, lifecycle.InitInput{TeamID: team})
				if err != nil {
					errs <- fmt.Errorf("%s: %w", team, err)
					return
				}
				if res.Session.Exercise.ID == "" {
					errs <- fmt.Errorf("%s: no exercise assigned", team)
					return
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestSubmitKeepsHintUnlockedDuringJudging(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)
	ctx := context.Background()

	// A team member unlocks a hint on the next phase while the judge call
	// is still in flight.
	f.eval.onEvaluate = func() {
		if _, err := f.manager.UnlockHint(ctx, s.ID, 2, 0); err != nil {
			t.Errorf("UnlockHint during judging: %v", err)
		}
	}

	res, err := f.manager.SubmitPhase(ctx, lifecycle.SubmitInput{
		SessionID: s.ID,
		PhaseName: "Problem Framing",
		Responses: answers("an answer"),
	})
	if err != nil {
		t.Fatalf("SubmitPhase: %v", err)
	}
	if !res.Passed {
		t.Errorf("res = %+v, want pass", res)
	}

	stored, err := f.manager.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Phases["Problem Framing"].Status != domain.PhasePassed {
		t.Error("submitted phase not folded in")
	}
	sol := stored.Phases["Solution"]
	if sol == nil || len(sol.Responses) == 0 || !sol.Responses[0].HintUsed {
		t.Error("hint unlocked during judging was lost by the submit fold")
	}
}

// conflictRepo makes the first update lose to a simulated concurrent writer.
type conflictRepo struct {
	*memSessionRepo
	cmu        sync.Mutex
	conflicts  int
	interloper func()
	updates    int
}

func (r *conflictRepo) Update(ctx context.Context, s *domain.Session) error {
	r.cmu.Lock()
	r.updates++
	if r.conflicts > 0 {
		r.conflicts--
		interloper := r.interloper
		r.cmu.Unlock()
		if interloper != nil {
			interloper()
		}
		return ports.ErrVersionConflict
	}
	r.cmu.Unlock()
	return r.memSessionRepo.Update(ctx, s)
}

func TestSubmitRetriesConflictAndFoldsFreshState(t *testing.T) {
	v, err := vault.Load(contentDir(t))
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	base := newMemSessionRepo()
	repo := &conflictRepo{memSessionRepo: base}
	eval := &stubEvaluator{score: 0.85}
	m := lifecycle.NewManager(repo, &memTeamRepo{}, v, eval, nil, nil, lifecycle.Options{
		Now:  clock.Now,
		Rand: rand.New(rand.NewSource(1)),
	})
	ctx := context.Background()

	res, err := m.InitSession(ctx, lifecycle.InitInput{TeamID: "team-a"})
	if err != nil {
		t.Fatal(err)
	}
	sid := res.Session.ID

	// Another writer unlocks a hint on the next phase and wins the first
	// write; the submit must re-read and fold into that fresh state.
	repo.conflicts = 1
	repo.interloper = func() {
		other, err := base.GetByID(ctx, sid)
		if err != nil {
			t.Error(err)
			return
		}
		other.Phases["Solution"] = &domain.PhaseData{
			PhaseID:   "phase_2",
			Status:    domain.PhaseInProgress,
			Responses: []domain.PhaseResponse{{QuestionID: "q1", Q: "What do you build?", HintUsed: true}},
		}
		if err := base.Update(ctx, other); err != nil {
			t.Error(err)
		}
	}

	out, err := m.SubmitPhase(ctx, lifecycle.SubmitInput{
		SessionID: sid,
		PhaseName: "Problem Framing",
		Responses: answers("an answer"),
	})
	if err != nil {
		t.Fatalf("SubmitPhase: %v", err)
	}
	if !out.Passed {
		t.Errorf("out = %+v, want pass", out)
	}
	if repo.updates != 2 {
		t.Errorf("updates = %d, want conflict then retry", repo.updates)
	}

	stored, err := base.GetByID(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Phases["Problem Framing"].Status != domain.PhasePassed {
		t.Error("submitted phase not folded in after retry")
	}
	sol := stored.Phases["Solution"]
	if sol == nil || len(sol.Responses) == 0 || !sol.Responses[0].HintUsed {
		t.Error("interloper's hint unlock lost on conflict retry")
	}
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	s := initSession(t, f)
	ctx := context.Background()

	if err := f.manager.DeleteSession(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager.GetSession(ctx, s.ID); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
