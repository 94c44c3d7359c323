// Package evaluator runs the two-stage AI judging pipeline: a red-team
// critic pass followed by a lead-partner verdict, with an optional visual
// pass when image evidence is attached.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pitchforge/engine/internal/judge"
	"github.com/pitchforge/engine/internal/ports"
	"github.com/pitchforge/engine/internal/resilience"
)

const breakerName = "judge"

// AnswerCriteria pairs one question, its grading criteria and the team's
// answer.
type AnswerCriteria struct {
	Question string
	Criteria string
	Answer   string
}

// Submission is everything the judge needs to grade one phase.
type Submission struct {
	ExerciseTitle  string
	ExerciseDomain string
	PhaseName      string
	PhaseObjective string
	Answers        []AnswerCriteria
	Image          *judge.ImageAttachment
}

// VisualMetrics carries the visual pass outcome back to scoring.
type VisualMetrics struct {
	Score     float64
	Alignment string
	Feedback  string
}

// Result is the pipeline outcome for one submission.
type Result struct {
	Score        float64
	Rationale    string
	Feedback     string
	Strengths    []string
	Improvements []string
	Visual       *VisualMetrics
	Usage        judge.Usage
}

// Config tunes the pipeline's resilience envelope.
type Config struct {
	Retry            resilience.RetryPolicy
	HardTimeout      time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
	VerdictMaxTokens int
	CriticMaxTokens  int
}

func DefaultConfig() Config {
	return Config{
		Retry: resilience.RetryPolicy{
			MaxRetries: 2,
			BaseDelay:  2 * time.Second,
			MaxDelay:   10 * time.Second,
			Multiplier: 2,
		},
		HardTimeout:      120 * time.Second,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		CriticMaxTokens:  1500,
		VerdictMaxTokens: 2000,
	}
}

// Evaluator orchestrates judge calls behind a shared circuit breaker.
type Evaluator struct {
	client   ports.JudgeClient
	breakers *resilience.Registry
	cfg      Config
	logger   *slog.Logger
}

func New(client ports.JudgeClient, cfg Config, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		client:   client,
		breakers: resilience.NewRegistry(cfg.FailureThreshold, cfg.RecoveryTimeout),
		cfg:      cfg,
		logger:   logger,
	}
}

// Evaluate grades one submission. Each retry sends the same fresh prompt:
// no prior feedback leaks into later attempts, so every attempt is judged
// with fresh eyes. The whole pipeline runs under a hard deadline.
func (e *Evaluator) Evaluate(ctx context.Context, sub Submission) (Result, error) {
	return resilience.WithTimeout(ctx, e.cfg.HardTimeout, func(ctx context.Context) (Result, error) {
		return e.run(ctx, sub)
	})
}

func (e *Evaluator) run(ctx context.Context, sub Submission) (Result, error) {
	var usage judge.Usage

	criticText, criticUsage, err := e.call(ctx, judge.Request{
		System:      criticSystem,
		Prompt:      criticPrompt(sub),
		MaxTokens:   e.cfg.CriticMaxTokens,
		Temperature: 0.7,
	})
	usage = usage.Add(criticUsage)
	if err != nil {
		return Result{Usage: usage}, fmt.Errorf("critic stage: %w", err)
	}
	critic := judge.ParseCritic(criticText)

	verdictText, verdictUsage, err := e.call(ctx, judge.Request{
		System:      verdictSystem,
		Prompt:      verdictPrompt(sub, critic.Report),
		MaxTokens:   e.cfg.VerdictMaxTokens,
		Temperature: 0.3,
	})
	usage = usage.Add(verdictUsage)
	if err != nil {
		return Result{Usage: usage}, fmt.Errorf("verdict stage: %w", err)
	}
	verdict := judge.ParseVerdict(verdictText)

	result := Result{
		Score:        float64(verdict.Score),
		Rationale:    verdict.Rationale,
		Feedback:     verdict.Feedback,
		Strengths:    verdict.Strengths,
		Improvements: verdict.Improvements,
		Usage:        usage,
	}

	if sub.Image != nil {
		visual, visualUsage := e.visualPass(ctx, sub)
		result.Usage = result.Usage.Add(visualUsage)
		result.Visual = visual
		if visual != nil && visual.Feedback != "" {
			result.Feedback += "\n\n[VISUAL INTEL] " + visual.Feedback
		}
	}
	return result, nil
}

// visualPass never fails the pipeline: a broken image analysis degrades to
// a neutral score.
func (e *Evaluator) visualPass(ctx context.Context, sub Submission) (*VisualMetrics, judge.Usage) {
	text, usage, err := e.call(ctx, judge.Request{
		System:      visualSystem,
		Prompt:      visualPrompt(sub),
		MaxTokens:   1000,
		Temperature: 0.3,
		Images:      []judge.ImageAttachment{*sub.Image},
	})
	if err != nil {
		e.logger.Warn("visual pass failed, using neutral score", "error", err)
		return &VisualMetrics{Score: 0.5, Alignment: "unknown", Feedback: ""}, usage
	}
	parsed := judge.ParseVisual(text)
	return &VisualMetrics{
		Score:     float64(parsed.VisualScore),
		Alignment: parsed.AlignmentRating,
		Feedback:  parsed.Feedback,
	}, usage
}

type generation struct {
	text  string
	usage judge.Usage
}

func (e *Evaluator) call(ctx context.Context, req judge.Request) (string, judge.Usage, error) {
	breaker := e.breakers.Get(breakerName)
	retryable := func(err error) bool {
		if judge.IsAuthError(err) {
			return false
		}
		return judge.IsRetryable(err)
	}
	gen, err := resilience.Retry(ctx, e.cfg.Retry, breaker, retryable, func(ctx context.Context) (generation, error) {
		text, usage, err := e.client.Generate(ctx, req)
		return generation{text: text, usage: usage}, err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			e.logger.Warn("judge circuit open, call rejected")
		}
		return "", gen.usage, err
	}
	return gen.text, gen.usage, nil
}
