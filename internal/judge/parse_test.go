package judge_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/pitchforge/engine/internal/judge"
)

func jsonUnmarshal(raw string, v any) error {
	return json.Unmarshal([]byte(raw), v)
}

func TestExtractJSONFencedBlock(t *testing.T) {
	text := "Here is my analysis:\n```json\n{\"score\": 0.8}\n```\nDone."
	got := judge.ExtractJSON(text)
	if got != `{"score": 0.8}` {
		t.Errorf("ExtractJSON = %q", got)
	}
}

func TestExtractJSONBareObject(t *testing.T) {
	text := `The verdict follows. {"score": 0.7, "rationale": "solid"} Thanks.`
	got := judge.ExtractJSON(text)
	if got != `{"score": 0.7, "rationale": "solid"}` {
		t.Errorf("ExtractJSON = %q", got)
	}
}

func TestRepairJSONTrailingCommas(t *testing.T) {
	raw := `{"strengths": ["a", "b",], "score": 0.5,}`
	repaired := judge.RepairJSON(raw)
	var v map[string]any
	if err := jsonUnmarshal(repaired, &v); err != nil {
		t.Fatalf("repaired JSON still invalid: %v\n%s", err, repaired)
	}
}

func TestRepairJSONTruncated(t *testing.T) {
	cases := []string{
		`{"score": 0.8, "rationale": "cut off mid sent`,
		`{"strengths": ["one", "two"`,
		`{"score": 0.8,`,
		`{"nested": {"deep": [1, 2`,
	}
	for _, raw := range cases {
		repaired := judge.RepairJSON(raw)
		var v map[string]any
		if err := jsonUnmarshal(repaired, &v); err != nil {
			t.Errorf("could not repair %q: got %q (%v)", raw, repaired, err)
		}
	}
}

func TestParseVerdictPercentScale(t *testing.T) {
	cases := []struct {
		text string
		want float64
	}{
		{`{"score": 85, "rationale": "good"}`, 0.85},
		{`{"score": 0.85, "rationale": "good"}`, 0.85},
		{`{"score": "72%", "rationale": "ok"}`, 0.72},
		{`{"score": 150, "rationale": "too eager"}`, 1.0},
		{`{"score": -3, "rationale": "harsh"}`, 0},
	}
	for _, tc := range cases {
		v := judge.ParseVerdict(tc.text)
		if float64(v.Score) != tc.want {
			t.Errorf("ParseVerdict(%q).Score = %v, want %v", tc.text, v.Score, tc.want)
		}
	}
}

func TestParseVerdictGarbage(t *testing.T) {
	v := judge.ParseVerdict("I refuse to answer in JSON today.")
	if v.Score != 0 {
		t.Errorf("Score = %v, want 0", v.Score)
	}
	if v.Rationale != "Evaluation pending." {
		t.Errorf("Rationale = %q", v.Rationale)
	}
	if v.Feedback == "" || v.Strengths == nil || v.Improvements == nil {
		t.Error("expected populated placeholder fields")
	}
}

func TestParseCriticGarbage(t *testing.T) {
	r := judge.ParseCritic("no json here")
	if r.Report != "Analysis inconclusive." {
		t.Errorf("Report = %q", r.Report)
	}
	if r.FatalFlaws == nil || r.MinorGaps == nil {
		t.Error("expected empty slices, got nil")
	}
}

func TestParseCriticValid(t *testing.T) {
	r := judge.ParseCritic(`{"report": "Weak moat.", "fatal_flaws": ["no revenue model"], "minor_gaps": [], "buzzword_count": 7}`)
	if r.Report != "Weak moat." {
		t.Errorf("Report = %q", r.Report)
	}
	if len(r.FatalFlaws) != 1 || r.BuzzwordCount != 7 {
		t.Errorf("unexpected report: %+v", r)
	}
}

func TestParseVisualFallback(t *testing.T) {
	v := judge.ParseVisual("unparseable")
	if float64(v.VisualScore) != 0.5 {
		t.Errorf("VisualScore = %v, want 0.5", v.VisualScore)
	}
	if v.AlignmentRating != "unknown" {
		t.Errorf("AlignmentRating = %q", v.AlignmentRating)
	}
}

func TestParseVisualValid(t *testing.T) {
	v := judge.ParseVisual(`{"visual_score": 80, "alignment_rating": "strong", "feedback": "clean deck"}`)
	if float64(v.VisualScore) != 0.8 {
		t.Errorf("VisualScore = %v, want 0.8", v.VisualScore)
	}
	if v.AlignmentRating != "strong" {
		t.Errorf("AlignmentRating = %q", v.AlignmentRating)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&judge.APIError{Status: http.StatusTooManyRequests}, true},
		{&judge.APIError{Status: http.StatusInternalServerError}, true},
		{&judge.APIError{Status: http.StatusServiceUnavailable}, true},
		{&judge.APIError{Status: http.StatusBadRequest}, false},
		{&judge.APIError{Status: http.StatusUnauthorized}, false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := judge.IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsAuthError(t *testing.T) {
	if !judge.IsAuthError(&judge.APIError{Status: http.StatusUnauthorized}) {
		t.Error("401 should be an auth error")
	}
	if judge.IsAuthError(&judge.APIError{Status: http.StatusInternalServerError}) {
		t.Error("500 is not an auth error")
	}
}
