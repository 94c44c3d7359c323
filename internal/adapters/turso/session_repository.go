package turso

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pitchforge/engine/internal/domain"
	"github.com/pitchforge/engine/internal/ports"
	"github.com/pitchforge/engine/internal/util"
)

const sessionColumns = `id, team_id, exercise, theme, current_phase, phases, phase_scores,
	total_score, total_tokens, extra_ai_tokens, phase_start_times, phase_elapsed_seconds,
	is_complete, version, created_at, updated_at`

// SessionRepository persists sessions as JSON-blob columns with text
// timestamps, one row per session.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	blobs, err := marshalSessionBlobs(session)
	if err != nil {
		return err
	}

	_, err = WithRetry(ctx, 3, func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.TeamID, blobs.exercise, blobs.theme,
			session.CurrentPhase, blobs.phases, blobs.phaseScores,
			session.TotalScore, session.TotalTokens, session.ExtraAITokens,
			blobs.startTimes, blobs.elapsed,
			util.BoolToInt64(session.IsComplete), 1,
			util.FormatTime(session.CreatedAt), util.FormatTime(session.UpdatedAt),
		)
	})
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	session.Version = 1
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return WithRetry(ctx, 3, func() (*domain.Session, error) {
		row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
		session, err := scanSession(row)
		if err == sql.ErrNoRows {
			return nil, ports.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("get session %s: %w", id, err)
		}
		return session, nil
	})
}

// Update writes the session back only when the stored version still matches
// the loaded one. Concurrent writers lose with ErrVersionConflict and must
// re-read.
func (r *SessionRepository) Update(ctx context.Context, session *domain.Session) error {
	blobs, err := marshalSessionBlobs(session)
	if err != nil {
		return err
	}

	result, err := WithRetry(ctx, 3, func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `
			UPDATE sessions SET
				team_id = ?, exercise = ?, theme = ?, current_phase = ?,
				phases = ?, phase_scores = ?, total_score = ?, total_tokens = ?,
				extra_ai_tokens = ?, phase_start_times = ?, phase_elapsed_seconds = ?,
				is_complete = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			session.TeamID, blobs.exercise, blobs.theme, session.CurrentPhase,
			blobs.phases, blobs.phaseScores, session.TotalScore, session.TotalTokens,
			session.ExtraAITokens, blobs.startTimes, blobs.elapsed,
			util.BoolToInt64(session.IsComplete), util.FormatTime(session.UpdatedAt),
			session.ID, session.Version,
		)
	})
	if err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	if affected == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, session.ID).Scan(&exists); err == nil && exists == 0 {
			return ports.ErrNotFound
		}
		return ports.ErrVersionConflict
	}
	session.Version++
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := WithRetry(ctx, 3, func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) ListAll(ctx context.Context) ([]*domain.Session, error) {
	return r.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC`)
}

func (r *SessionRepository) CountAll(ctx context.Context) (int64, error) {
	return WithRetry(ctx, 3, func() (int64, error) {
		var count int64
		if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
			return 0, fmt.Errorf("count sessions: %w", err)
		}
		return count, nil
	})
}

// GetBestPerTeam reduces to one session per team: completed runs beat
// incomplete ones, then higher score, then fewer tokens spent.
func (r *SessionRepository) GetBestPerTeam(ctx context.Context, limit int) ([]*domain.Session, error) {
	sessions, err := r.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions`)
	if err != nil {
		return nil, err
	}

	// Scores are recomputed on scan, so the stored total_score column may be
	// stale. Rank on the recomputed values before picking each team's best.
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if a.IsComplete != b.IsComplete {
			return a.IsComplete
		}
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		return a.TotalTokens < b.TotalTokens
	})

	seen := make(map[string]bool)
	var best []*domain.Session
	for _, s := range sessions {
		if seen[s.TeamID] {
			continue
		}
		seen[s.TeamID] = true
		best = append(best, s)
	}

	if limit > 0 && len(best) > limit {
		best = best[:limit]
	}
	return best, nil
}

// GetLatestForTeam keys on creation time: a stale client writing to an
// abandoned session must not make it the resume target again.
func (r *SessionRepository) GetLatestForTeam(ctx context.Context, teamID string) (*domain.Session, error) {
	return WithRetry(ctx, 3, func() (*domain.Session, error) {
		row := r.db.QueryRowContext(ctx, `
			SELECT `+sessionColumns+` FROM sessions
			WHERE team_id = ? ORDER BY created_at DESC LIMIT 1`, teamID)
		session, err := scanSession(row)
		if err == sql.ErrNoRows {
			return nil, ports.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("get latest session for team %s: %w", teamID, err)
		}
		return session, nil
	})
}

func (r *SessionRepository) querySessions(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	return WithRetry(ctx, 3, func() ([]*domain.Session, error) {
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query sessions: %w", err)
		}
		defer rows.Close()

		var sessions []*domain.Session
		for rows.Next() {
			session, err := scanSession(rows)
			if err != nil {
				return nil, fmt.Errorf("scan session: %w", err)
			}
			sessions = append(sessions, session)
		}
		return sessions, rows.Err()
	})
}

type sessionBlobs struct {
	exercise    string
	theme       string
	phases      string
	phaseScores string
	startTimes  string
	elapsed     string
}

func marshalSessionBlobs(s *domain.Session) (sessionBlobs, error) {
	var b sessionBlobs
	for _, field := range []struct {
		name string
		dst  *string
		src  any
	}{
		{"exercise", &b.exercise, s.Exercise},
		{"theme", &b.theme, s.Theme},
		{"phases", &b.phases, s.Phases},
		{"phase_scores", &b.phaseScores, s.PhaseScores},
		{"phase_start_times", &b.startTimes, s.PhaseStartTimes},
		{"phase_elapsed_seconds", &b.elapsed, s.PhaseElapsedSeconds},
	} {
		data, err := json.Marshal(field.src)
		if err != nil {
			return b, fmt.Errorf("marshal session %s: %w", field.name, err)
		}
		*field.dst = string(data)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s         domain.Session
		blobs     sessionBlobs
		complete  int64
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&s.ID, &s.TeamID, &blobs.exercise, &blobs.theme, &s.CurrentPhase,
		&blobs.phases, &blobs.phaseScores, &s.TotalScore, &s.TotalTokens,
		&s.ExtraAITokens, &blobs.startTimes, &blobs.elapsed,
		&complete, &s.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		name string
		src  string
		dst  any
	}{
		{"exercise", blobs.exercise, &s.Exercise},
		{"theme", blobs.theme, &s.Theme},
		{"phases", blobs.phases, &s.Phases},
		{"phase_scores", blobs.phaseScores, &s.PhaseScores},
		{"phase_start_times", blobs.startTimes, &s.PhaseStartTimes},
		{"phase_elapsed_seconds", blobs.elapsed, &s.PhaseElapsedSeconds},
	} {
		if err := json.Unmarshal([]byte(field.src), field.dst); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", field.name, err)
		}
	}

	if s.Phases == nil {
		s.Phases = map[string]*domain.PhaseData{}
	}
	if s.PhaseScores == nil {
		s.PhaseScores = map[string]float64{}
	}
	if s.PhaseStartTimes == nil {
		s.PhaseStartTimes = map[string]time.Time{}
	}
	if s.PhaseElapsedSeconds == nil {
		s.PhaseElapsedSeconds = map[string]float64{}
	}

	s.IsComplete = util.Int64ToBool(complete)
	if s.CreatedAt, err = util.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if s.UpdatedAt, err = util.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	// The stored total is denormalized; the per-phase scores are the truth.
	s.TotalScore = domain.DefaultScoringConfig().TotalScore(s.PhaseScores)
	return &s, nil
}
