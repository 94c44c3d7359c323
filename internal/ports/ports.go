// Package ports defines the interfaces between the application core and its
// adapters. Storage, the AI judge and metrics all plug in behind these.
package ports

import (
	"context"
	"errors"

	"github.com/pitchforge/engine/internal/domain"
	"github.com/pitchforge/engine/internal/judge"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when an update targets a stale session
	// version. Callers should re-read and retry.
	ErrVersionConflict = errors.New("session version conflict")
)

// SessionRepository persists pitch sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// Update applies changes only if the stored version matches the
	// session's loaded version, otherwise it fails with ErrVersionConflict.
	Update(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]*domain.Session, error)
	CountAll(ctx context.Context) (int64, error)
	// GetBestPerTeam returns each team's strongest session, preferring
	// completed runs, then higher scores, then fewer tokens spent.
	GetBestPerTeam(ctx context.Context, limit int) ([]*domain.Session, error)
	GetLatestForTeam(ctx context.Context, teamID string) (*domain.Session, error)
}

// TeamContextRepository persists the exercise and theme assigned to a team.
type TeamContextRepository interface {
	Get(ctx context.Context, teamID string) (*domain.TeamContext, error)
	Put(ctx context.Context, tc *domain.TeamContext) error
}

// JudgeClient is one generation call against the AI judging service.
type JudgeClient interface {
	Generate(ctx context.Context, req judge.Request) (string, judge.Usage, error)
}

// MetricsRecorder receives evaluation telemetry.
type MetricsRecorder interface {
	RecordEvaluation(ctx context.Context, phaseID string, score float64, durationSeconds float64, degraded bool)
	RecordJudgeTokens(ctx context.Context, input, output int64)
	Shutdown(ctx context.Context) error
}
