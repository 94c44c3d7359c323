package judge

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Default texts used when the judge returns output we cannot parse. The
// evaluation must keep moving, so parse failures yield usable placeholders
// instead of errors.
const (
	defaultCriticReport  = "Analysis inconclusive."
	defaultRationale     = "Evaluation pending."
	defaultVisualScore   = 0.5
	defaultAlignment     = "unknown"
	defaultVisualComment = "Visual analysis unavailable."
)

// CriticReport is the first-stage adversarial review of a submission.
type CriticReport struct {
	Report        string   `json:"report"`
	FatalFlaws    []string `json:"fatal_flaws"`
	MinorGaps     []string `json:"minor_gaps"`
	BuzzwordCount int      `json:"buzzword_count"`
}

// Verdict is the second-stage graded decision.
type Verdict struct {
	Score        Score    `json:"score"`
	Rationale    string   `json:"rationale"`
	Feedback     string   `json:"feedback"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

// VisualAnalysis grades submitted image evidence.
type VisualAnalysis struct {
	VisualScore     Score  `json:"visual_score"`
	Rationale       string `json:"rationale"`
	AlignmentRating string `json:"alignment_rating"`
	Feedback        string `json:"feedback"`
}

// Score decodes numeric or stringified scores and normalizes percent-scale
// values: anything above 1 is treated as a percentage and divided by 100,
// then clamped to [0, 1].
type Score float64

func (s *Score) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*s = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		*s = 0
		return nil
	}
	*s = Score(normalizeScore(v))
	return nil
}

func normalizeScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v > 1 {
		v /= 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareObjectRe  = regexp.MustCompile(`(?s)\{.*\}`)
	trailingComma = regexp.MustCompile(`,\s*([\]}])`)
)

// ExtractJSON pulls the first JSON object out of free-form model output,
// preferring fenced code blocks over bare braces.
func ExtractJSON(text string) string {
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := bareObjectRe.FindString(text); m != "" {
		return m
	}
	return strings.TrimSpace(text)
}

// RepairJSON fixes the damage models most often inflict on JSON: trailing
// commas and mid-object truncation. Truncated output gets its open strings,
// arrays and objects closed so a best-effort decode can proceed.
func RepairJSON(raw string) string {
	raw = trailingComma.ReplaceAllString(raw, "$1")
	if json.Valid([]byte(raw)) {
		return raw
	}

	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				stack = append(stack, '}')
			}
		case '[':
			if !inString {
				stack = append(stack, ']')
			}
		case '}', ']':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(raw, ", \t\n\r"))
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	repaired := trailingComma.ReplaceAllString(b.String(), "$1")
	return repaired
}

func decodeInto(text string, v any) bool {
	extracted := ExtractJSON(text)
	if json.Unmarshal([]byte(extracted), v) == nil {
		return true
	}
	return json.Unmarshal([]byte(RepairJSON(extracted)), v) == nil
}

// ParseCritic decodes first-stage output. It never fails: unusable output
// produces a placeholder report so the verdict stage still runs.
func ParseCritic(text string) CriticReport {
	var report CriticReport
	if !decodeInto(text, &report) || report.Report == "" {
		report.Report = defaultCriticReport
	}
	if report.FatalFlaws == nil {
		report.FatalFlaws = []string{}
	}
	if report.MinorGaps == nil {
		report.MinorGaps = []string{}
	}
	return report
}

// ParseVerdict decodes second-stage output. Missing or broken fields fall
// back to a zero score with placeholder text.
func ParseVerdict(text string) Verdict {
	var v Verdict
	decodeInto(text, &v)
	if v.Rationale == "" {
		v.Rationale = defaultRationale
	}
	if v.Feedback == "" {
		v.Feedback = v.Rationale
	}
	if v.Strengths == nil {
		v.Strengths = []string{}
	}
	if v.Improvements == nil {
		v.Improvements = []string{}
	}
	return v
}

// ParseVisual decodes the image-analysis pass. Unusable output falls back
// to a neutral 0.5 so the visual modifier neither rewards nor punishes.
func ParseVisual(text string) VisualAnalysis {
	v := VisualAnalysis{VisualScore: defaultVisualScore}
	var decoded VisualAnalysis
	if decodeInto(text, &decoded) {
		v = decoded
		if v.VisualScore == 0 && !strings.Contains(text, "visual_score") {
			v.VisualScore = defaultVisualScore
		}
	}
	if v.AlignmentRating == "" {
		v.AlignmentRating = defaultAlignment
	}
	if v.Feedback == "" {
		v.Feedback = defaultVisualComment
	}
	return v
}
