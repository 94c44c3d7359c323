package evaluator

import (
	"fmt"
	"strings"
)

const criticSystem = `You are a ruthless red-team critic at a venture fund. You dissect startup pitch work for fatal flaws, vague hand-waving and buzzword padding. You are precise and brief. Respond only with JSON matching:
{"report": string, "fatal_flaws": [string], "minor_gaps": [string], "buzzword_count": int}`

const verdictSystem = `You are the lead partner at a venture fund making the final call on pitch work. You have a critic's report in hand but you form your own judgment from the answers themselves. Be fair: reward substance, punish fluff. Respond only with JSON matching:
{"score": float between 0 and 1, "rationale": string, "feedback": string, "strengths": [string], "improvements": [string]}`

const visualSystem = `You review visual pitch material for a venture fund. Judge the attached image on clarity, polish and how well it supports the written pitch. Respond only with JSON matching:
{"visual_score": float between 0 and 1, "rationale": string, "alignment_rating": string, "feedback": string}`

func buildSubmissionBlock(sub Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exercise: %s (%s)\n", sub.ExerciseTitle, sub.ExerciseDomain)
	fmt.Fprintf(&b, "Phase: %s\nObjective: %s\n\n", sub.PhaseName, sub.PhaseObjective)
	for i, a := range sub.Answers {
		fmt.Fprintf(&b, "Question %d: %s\n", i+1, a.Question)
		if a.Criteria != "" {
			fmt.Fprintf(&b, "Grading criteria: %s\n", a.Criteria)
		}
		fmt.Fprintf(&b, "Answer: %s\n\n", a.Answer)
	}
	return b.String()
}

func criticPrompt(sub Submission) string {
	return "Tear apart the following pitch-phase submission. List every fatal flaw and minor gap, count the buzzwords.\n\n" + buildSubmissionBlock(sub)
}

func verdictPrompt(sub Submission, criticReport string) string {
	var b strings.Builder
	b.WriteString("Grade the following pitch-phase submission.\n\n")
	b.WriteString(buildSubmissionBlock(sub))
	b.WriteString("Red-team critic's report:\n")
	b.WriteString(criticReport)
	b.WriteString("\n\nWeigh the critique but judge the work on its merits. Produce your verdict.")
	return b.String()
}

func visualPrompt(sub Submission) string {
	return fmt.Sprintf("The attached image is visual material for the %q phase of the %q exercise. Objective: %s. Grade it.",
		sub.PhaseName, sub.ExerciseTitle, sub.PhaseObjective)
}
