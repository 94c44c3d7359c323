package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/pitchforge/engine/internal/domain"
	"github.com/pitchforge/engine/internal/imagegen"
	"github.com/pitchforge/engine/internal/judge"
	"github.com/pitchforge/engine/internal/lifecycle"
	"github.com/pitchforge/engine/internal/ports"
	"github.com/pitchforge/engine/internal/resilience"
	"github.com/pitchforge/engine/internal/vault"
)

// Handler wires the lifecycle manager to HTTP routes.
type Handler struct {
	manager  *lifecycle.Manager
	sessions ports.SessionRepository
	vault    *vault.Vault
	images   *imagegen.Client
}

func NewHandler(manager *lifecycle.Manager, sessions ports.SessionRepository, contentVault *vault.Vault, images *imagegen.Client) *Handler {
	return &Handler{manager: manager, sessions: sessions, vault: contentVault, images: images}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/init", h.initSession)
		r.Get("/check-session/{teamID}", h.checkSession)
		r.Post("/start-phase", h.startPhase)
		r.Post("/submit-phase", h.submitPhase)
		r.Post("/hint", h.unlockHint)
		r.Get("/leaderboard", h.leaderboard)
		r.Get("/exercises", h.exercises)
		r.Get("/session/{sessionID}", h.sessionDetail)
		r.Delete("/sessions/{sessionID}", h.deleteSession)
		r.Get("/sessions", h.listSessions)
		r.Post("/generate-image", h.generateImage)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type initRequest struct {
	TeamID     string `json:"team_id"`
	ExerciseID string `json:"exercise_id,omitempty"`
	ThemeID    string `json:"theme_id,omitempty"`
}

func (h *Handler) initSession(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TeamID == "" {
		writeError(w, r, http.StatusBadRequest, "team_id is required")
		return
	}

	res, err := h.manager.InitSession(r.Context(), lifecycle.InitInput{
		TeamID:     req.TeamID,
		ExerciseID: req.ExerciseID,
		ThemeID:    req.ThemeID,
	})
	if err != nil {
		h.writeErrorFor(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    res.Session.ID,
		"resumed":       res.Resumed,
		"exercise":      res.Session.Exercise,
		"theme":         res.Session.Theme,
		"phases":        res.Phases,
		"current_phase": res.Session.CurrentPhase,
		"phase_scores":  res.Session.PhaseScores,
		"phase_data":    res.Session.Phases,
		"is_complete":   res.Session.IsComplete,
		"total_tokens":  res.Session.TotalTokens,
	})
}

func (h *Handler) checkSession(w http.ResponseWriter, r *http.Request) {
	check, err := h.manager.CheckSession(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		h.writeErrorFor(w, r, err)
		return
	}
	if !check.HasSession {
		writeJSON(w, http.StatusOK, map[string]any{"has_session": false, "is_complete": false, "session_info": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"has_session": true,
		"is_complete": check.IsComplete,
		"session_info": map[string]any{
			"session_id":       check.SessionID,
			"exercise_id":      check.ExerciseID,
			"exercise_title":   check.ExerciseTitle,
			"current_phase":    check.CurrentPhase,
			"total_score":      check.TotalScore,
			"phases_completed": check.PhasesCompleted,
			"phase_scores":     check.PhaseScores,
		},
	})
}

type startPhaseRequest struct {
	SessionID             string                 `json:"session_id"`
	PhaseNumber           int                    `json:"phase_number"`
	LeavingPhaseNumber    int                    `json:"leaving_phase_number,omitempty"`
	LeavingElapsedSeconds *float64               `json:"leaving_phase_elapsed_seconds,omitempty"`
	LeavingResponses      []domain.PhaseResponse `json:"leaving_phase_responses,omitempty"`
}

func (h *Handler) startPhase(w http.ResponseWriter, r *http.Request) {
	var req startPhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	res, err := h.manager.StartPhase(r.Context(), lifecycle.StartPhaseInput{
		SessionID:             req.SessionID,
		PhaseNumber:           req.PhaseNumber,
		LeavingPhaseNumber:    req.LeavingPhaseNumber,
		LeavingElapsedSeconds: req.LeavingElapsedSeconds,
		LeavingResponses:      req.LeavingResponses,
	})
	if err != nil {
		h.writeErrorFor(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"phase_id":            res.PhaseID,
		"phase_name":          res.PhaseName,
		"questions":           res.Questions,
		"time_limit_seconds":  res.TimeLimitSeconds,
		"started_at":          res.StartedAt,
		"current_server_time": res.ServerTime,
		"elapsed_seconds":     res.ElapsedSeconds,
		"previous_responses":  res.PreviousResponses,
	})
}

type submitPhaseRequest struct {
	SessionID string                 `json:"session_id"`
	PhaseName string                 `json:"phase_name"`
	Responses []domain.PhaseResponse `json:"responses"`
	ImageB64  string                 `json:"image_b64,omitempty"`
	ImageType string                 `json:"image_media_type,omitempty"`
}

func (h *Handler) submitPhase(w http.ResponseWriter, r *http.Request) {
	var req submitPhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.PhaseName == "" {
		writeError(w, r, http.StatusBadRequest, "session_id and phase_name are required")
		return
	}

	in := lifecycle.SubmitInput{
		SessionID: req.SessionID,
		PhaseName: req.PhaseName,
		Responses: req.Responses,
	}
	if req.ImageB64 != "" {
		in.Image = &judge.ImageAttachment{Data: req.ImageB64, MediaType: req.ImageType}
	}

	res, err := h.manager.SubmitPhase(r.Context(), in)
	if err != nil {
		h.writeErrorFor(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"passed":          res.Passed,
		"ai_score":        res.AIScore,
		"phase_score":     res.PhaseScore,
		"total_score":     res.TotalScore,
		"feedback":        res.Feedback,
		"rationale":       res.Rationale,
		"strengths":       res.Strengths,
		"improvements":    res.Improvements,
		"metrics":         res.Breakdown,
		"total_tokens":    res.TotalTokens,
		"extra_ai_tokens": res.ExtraAITokens,
		"can_proceed":     res.CanProceed,
		"is_final_phase":  res.IsFinalPhase,
		"degraded":        res.Degraded,
	})
}

type hintRequest struct {
	SessionID     string `json:"session_id"`
	PhaseNumber   int    `json:"phase_number"`
	QuestionIndex int    `json:"question_index"`
}

func (h *Handler) unlockHint(w http.ResponseWriter, r *http.Request) {
	var req hintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	res, err := h.manager.UnlockHint(r.Context(), req.SessionID, req.PhaseNumber, req.QuestionIndex)
	if err != nil {
		h.writeErrorFor(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hint": res.Hint, "penalty": res.Penalty})
}

type leaderboardRow struct {
	Rank        int                `json:"rank"`
	TeamID      string             `json:"team_id"`
	Exercise    string             `json:"exercise"`
	TotalScore  int                `json:"total_score"`
	Tier        string             `json:"tier"`
	PhaseScores map[string]float64 `json:"phase_scores"`
	TotalTokens int64              `json:"total_tokens"`
	IsComplete  bool               `json:"is_complete"`
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	var (
		best  []*domain.Session
		count int64
	)
	g, gctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		best, err = h.sessions.GetBestPerTeam(gctx, 50)
		return err
	})
	g.Go(func() error {
		var err error
		count, err = h.sessions.CountAll(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		h.writeErrorFor(w, r, err)
		return
	}

	rows := make([]leaderboardRow, 0, len(best))
	for i, s := range best {
		rows = append(rows, leaderboardRow{
			Rank:        i + 1,
			TeamID:      s.TeamID,
			Exercise:    s.Exercise.Title,
			TotalScore:  int(s.TotalScore),
			Tier:        domain.ScoreTier(s.TotalScore),
			PhaseScores: s.PhaseScores,
			TotalTokens: s.TotalTokens,
			IsComplete:  s.IsComplete,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": rows, "total_sessions": count})
}

func (h *Handler) exercises(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"exercises": h.vault.Exercises(),
		"themes":    h.vault.Themes(),
	})
}

func (h *Handler) sessionDetail(w http.ResponseWriter, r *http.Request) {
	session, err := h.manager.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeErrorFor(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.writeErrorFor(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListAll(r.Context())
	if err != nil {
		h.writeErrorFor(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

type imageRequest struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) generateImage(w http.ResponseWriter, r *http.Request) {
	if h.images == nil {
		writeError(w, r, http.StatusServiceUnavailable, "image generation not configured")
		return
	}
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeError(w, r, http.StatusBadRequest, "prompt is required")
		return
	}

	urlPath, err := h.images.Generate(r.Context(), req.Prompt)
	if err != nil {
		h.writeErrorFor(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image_url": urlPath})
}

// writeErrorFor maps domain errors onto status codes: missing records are
// 404, bad phase references are 400, judge timeouts are 504 with a retry
// hint, everything else is a 500 carrying the request id for correlation.
func (h *Handler) writeErrorFor(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, lifecycle.ErrInvalidPhase):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, resilience.ErrTimeout):
		writeError(w, r, http.StatusGatewayTimeout, "judging timed out, please submit again")
	case errors.Is(err, imagegen.ErrGenerationFailed):
		writeError(w, r, http.StatusBadGateway, "image generation failed")
	default:
		reqID := middleware.GetReqID(r.Context())
		log.Printf("request %s failed: %v", reqID, err)
		writeError(w, r, http.StatusInternalServerError, "internal error, reference "+reqID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
