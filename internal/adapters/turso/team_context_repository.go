package turso

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pitchforge/engine/internal/domain"
	"github.com/pitchforge/engine/internal/ports"
	"github.com/pitchforge/engine/internal/util"
)

// TeamContextRepository stores the exercise and theme assigned to each team.
type TeamContextRepository struct {
	db *sql.DB
}

func NewTeamContextRepository(db *sql.DB) *TeamContextRepository {
	return &TeamContextRepository{db: db}
}

func (r *TeamContextRepository) Get(ctx context.Context, teamID string) (*domain.TeamContext, error) {
	return WithRetry(ctx, 3, func() (*domain.TeamContext, error) {
		var (
			tc           domain.TeamContext
			exerciseBlob string
			themeBlob    string
			createdAt    string
		)
		err := r.db.QueryRowContext(ctx, `
			SELECT team_id, exercise, theme, created_at FROM team_contexts WHERE team_id = ?`,
			teamID,
		).Scan(&tc.TeamID, &exerciseBlob, &themeBlob, &createdAt)
		if err == sql.ErrNoRows {
			return nil, ports.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("get team context %s: %w", teamID, err)
		}

		if err := json.Unmarshal([]byte(exerciseBlob), &tc.Exercise); err != nil {
			return nil, fmt.Errorf("unmarshal team exercise: %w", err)
		}
		if err := json.Unmarshal([]byte(themeBlob), &tc.Theme); err != nil {
			return nil, fmt.Errorf("unmarshal team theme: %w", err)
		}
		if tc.CreatedAt, err = util.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		return &tc, nil
	})
}

func (r *TeamContextRepository) Put(ctx context.Context, tc *domain.TeamContext) error {
	exerciseBlob, err := json.Marshal(tc.Exercise)
	if err != nil {
		return fmt.Errorf("marshal team exercise: %w", err)
	}
	themeBlob, err := json.Marshal(tc.Theme)
	if err != nil {
		return fmt.Errorf("marshal team theme: %w", err)
	}

	_, err = WithRetry(ctx, 3, func() (sql.Result, error) {
		return r.db.ExecContext(ctx, `
			INSERT INTO team_contexts (team_id, exercise, theme, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(team_id) DO UPDATE SET exercise = excluded.exercise, theme = excluded.theme`,
			tc.TeamID, string(exerciseBlob), string(themeBlob), util.FormatTime(tc.CreatedAt),
		)
	})
	if err != nil {
		return fmt.Errorf("put team context %s: %w", tc.TeamID, err)
	}
	return nil
}
