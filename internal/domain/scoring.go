package domain

import "math"

// ScoringConfig holds the tunable constants of the scoring formula. The zero
// value is not usable; start from DefaultScoringConfig.
type ScoringConfig struct {
	MaxAIPoints            float64
	RetryPenaltyPerAttempt float64
	MaxRetries             int
	MaxTimePenalty         float64
	EfficiencyBonusPercent float64
	OptimalTokenMin        int64
	OptimalTokenMax        int64
	PassThreshold          float64
	MercyThreshold         float64
	MercyRetryCount        int
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		MaxAIPoints:            1000,
		RetryPenaltyPerAttempt: 0,
		MaxRetries:             3,
		MaxTimePenalty:         150,
		EfficiencyBonusPercent: 0.05,
		OptimalTokenMin:        100,
		OptimalTokenMax:        600,
		PassThreshold:          0.65,
		MercyThreshold:         0.45,
		MercyRetryCount:        2,
	}
}

// ScoreInput is everything the scoring formula consumes for one attempt.
type ScoreInput struct {
	AIScore          float64
	Retries          int
	DurationSeconds  float64
	TokenCount       int64
	PhaseWeight      float64
	TimeLimitSeconds float64
	HintPenalty      float64
	InputTokens      int64
	OutputTokens     int64
	// VisualScore, when set, nudges the AI score by up to +/-0.1 before
	// any points are computed.
	VisualScore *float64
}

// ScoreBreakdown itemises how a weighted score came to be.
type ScoreBreakdown struct {
	AIQualityPoints float64 `json:"ai_quality_points"`
	TimePenalty     float64 `json:"time_penalty"`
	RetryPenalty    float64 `json:"retry_penalty"`
	Retries         int     `json:"retries"`
	HintPenalty     float64 `json:"hint_penalty"`
	EfficiencyBonus float64 `json:"efficiency_bonus"`
	PhaseWeight     float64 `json:"phase_weight"`
	MaxPhaseScore   float64 `json:"max_phase_score"`
	DurationSeconds float64 `json:"duration_seconds"`
	TokensUsed      int64   `json:"tokens_used"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	TotalAITokens   int64   `json:"total_ai_tokens"`
}

// ScoreResult bundles the capped weighted score with its breakdown and the
// metric snapshot to persist.
type ScoreResult struct {
	RawScore      float64
	WeightedScore float64
	Metrics       PhaseMetric
	Breakdown     ScoreBreakdown
}

// ScorePhase turns one attempt's raw measurements into a capped weighted
// score. The phase's contribution is hard-capped to its weight share of the
// 1000-point total, bonuses included, so summing all phases can never exceed
// 1000 by construction.
func (c ScoringConfig) ScorePhase(in ScoreInput) ScoreResult {
	aiScore := in.AIScore
	if in.VisualScore != nil {
		aiScore = clamp01(aiScore + (*in.VisualScore-0.5)*0.2)
	}

	basePoints := aiScore * c.MaxAIPoints

	// Overtime costs a flat 10 points per started 10-minute block, capped.
	timePenalty := 0.0
	if in.DurationSeconds > in.TimeLimitSeconds {
		overtime := in.DurationSeconds - in.TimeLimitSeconds
		blocks := math.Ceil(overtime / 600.0)
		timePenalty = math.Min(c.MaxTimePenalty, blocks*10.0)
	}

	retryPenalty := float64(in.Retries) * c.RetryPenaltyPerAttempt
	efficiencyBonus := c.efficiencyBonus(in.TokenCount, basePoints)

	raw := basePoints - timePenalty - retryPenalty - in.HintPenalty + efficiencyBonus

	maxPhaseShare := c.MaxAIPoints * in.PhaseWeight
	weighted := math.Round(math.Min(math.Max(raw*in.PhaseWeight, 0), maxPhaseShare))

	metrics := PhaseMetric{
		AIScore:         aiScore,
		WeightedScore:   weighted,
		DurationSeconds: in.DurationSeconds,
		Retries:         in.Retries,
		TokensUsed:      in.TokenCount,
		InputTokens:     in.InputTokens,
		OutputTokens:    in.OutputTokens,
		TimePenalty:     timePenalty,
		RetryPenalty:    retryPenalty,
		HintPenalty:     in.HintPenalty,
		EfficiencyBonus: efficiencyBonus,
	}
	if in.VisualScore != nil {
		metrics.VisualScore = *in.VisualScore
	}

	return ScoreResult{
		RawScore:      raw,
		WeightedScore: weighted,
		Metrics:       metrics,
		Breakdown: ScoreBreakdown{
			AIQualityPoints: basePoints,
			TimePenalty:     timePenalty,
			RetryPenalty:    retryPenalty,
			Retries:         in.Retries,
			HintPenalty:     in.HintPenalty,
			EfficiencyBonus: efficiencyBonus,
			PhaseWeight:     in.PhaseWeight,
			MaxPhaseScore:   maxPhaseShare,
			DurationSeconds: in.DurationSeconds,
			TokensUsed:      in.TokenCount,
			InputTokens:     in.InputTokens,
			OutputTokens:    in.OutputTokens,
			TotalAITokens:   in.InputTokens + in.OutputTokens,
		},
	}
}

// Pass decides whether an attempt clears the bar. The mercy rule opens a
// lower threshold once a team has burned enough retries, so persistent but
// mediocre attempts are not blocked forever.
func (c ScoringConfig) Pass(aiScore float64, retries int) bool {
	if aiScore >= c.PassThreshold {
		return true
	}
	return retries >= c.MercyRetryCount && aiScore >= c.MercyThreshold
}

// TotalScore sums all phase scores and clamps at 1000. Each phase is already
// capped to its weight share, so the clamp is defense in depth.
func (c ScoringConfig) TotalScore(phaseScores map[string]float64) float64 {
	var sum float64
	for _, v := range phaseScores {
		sum += v
	}
	return math.Min(c.MaxAIPoints, sum)
}

// TotalTokens sums judge token usage across all phases.
func TotalTokens(phases map[string]*PhaseData) int64 {
	var total int64
	for _, p := range phases {
		if p == nil {
			continue
		}
		total += p.Metrics.InputTokens + p.Metrics.OutputTokens
	}
	return total
}

// ScoreTier maps a total score to its display tier.
func ScoreTier(score float64) string {
	switch {
	case score >= 900:
		return "S-TIER"
	case score >= 800:
		return "A-TIER"
	case score >= 700:
		return "B-TIER"
	case score >= 500:
		return "C-TIER"
	default:
		return "D-TIER"
	}
}

func (c ScoringConfig) efficiencyBonus(tokenCount int64, basePoints float64) float64 {
	if tokenCount >= c.OptimalTokenMin && tokenCount <= c.OptimalTokenMax {
		return basePoints * c.EfficiencyBonusPercent
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
