package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrEmptyResponse = errors.New("model returned an empty response")
	ErrShapeMismatch = errors.New("model response does not match the result contract")
)

// wireResult mirrors Result with maps so missing facets can be told apart
// from zero scores.
type wireResult struct {
	TotalScore       *float64                `json:"totalScore"`
	Grade            Grade                   `json:"grade"`
	Breakdown        map[string]*ScoreItem   `json:"breakdown"`
	Penalties        map[string]*PenaltyItem `json:"penalties"`
	Improvements     []wireImprovement       `json:"improvements"`
	ImprovedVersions []ImprovedVersion       `json:"improvedVersions"`
}

// wireImprovement accepts a fractional priority such as 1.0.
type wireImprovement struct {
	Priority     float64 `json:"priority"`
	Suggestion   string  `json:"suggestion"`
	ExpectedGain float64 `json:"expectedGain"`
}

// Decode parses the full model output into a Result. Out-of-range numbers
// are clamped to the rubric; structural violations fail with an *Error
// carrying ANALYSIS_FAILED.
func Decode(raw string) (*Result, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, NewError(ErrAnalysisFailed, ErrEmptyResponse)
	}

	var w wireResult
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&w); err != nil {
		return nil, NewError(ErrAnalysisFailed, fmt.Errorf("decode result json: %w", err))
	}
	if dec.More() {
		return nil, NewError(ErrAnalysisFailed, fmt.Errorf("%w: trailing data after result object", ErrShapeMismatch))
	}

	res, err := w.toResult()
	if err != nil {
		return nil, NewError(ErrAnalysisFailed, err)
	}
	return res, nil
}

func (w *wireResult) toResult() (*Result, error) {
	if w.TotalScore == nil {
		return nil, fmt.Errorf("%w: missing totalScore", ErrShapeMismatch)
	}
	if !w.Grade.Valid() {
		return nil, fmt.Errorf("%w: unknown grade %q", ErrShapeMismatch, w.Grade)
	}
	if len(w.Improvements) != ImprovementCount {
		return nil, fmt.Errorf("%w: expected %d improvements, got %d", ErrShapeMismatch, ImprovementCount, len(w.Improvements))
	}
	if len(w.ImprovedVersions) != ImprovedVersionCount {
		return nil, fmt.Errorf("%w: expected %d improved versions, got %d", ErrShapeMismatch, ImprovedVersionCount, len(w.ImprovedVersions))
	}

	res := &Result{
		TotalScore:       clamp(*w.TotalScore, 0, 100),
		Grade:            w.Grade,
		Improvements:     make([]Improvement, 0, len(w.Improvements)),
		ImprovedVersions: w.ImprovedVersions,
	}
	for _, im := range w.Improvements {
		res.Improvements = append(res.Improvements, Improvement{
			Priority:     int(math.Round(im.Priority)),
			Suggestion:   im.Suggestion,
			ExpectedGain: im.ExpectedGain,
		})
	}

	items := res.Breakdown.Items()
	for _, tier := range Tiers {
		for _, f := range tier.Facets {
			got, ok := w.Breakdown[f.Key]
			if !ok || got == nil {
				return nil, fmt.Errorf("%w: breakdown missing %s", ErrShapeMismatch, f.Key)
			}
			limit := float64(f.Max)
			*items[f.Key] = ScoreItem{
				Score:  clamp(got.Score, 0, limit),
				Max:    limit,
				Reason: got.Reason,
			}
		}
	}

	penalties := res.Penalties.Items()
	for _, p := range PenaltyFacets {
		got, ok := w.Penalties[p.Key]
		if !ok || got == nil {
			return nil, fmt.Errorf("%w: penalties missing %s", ErrShapeMismatch, p.Key)
		}
		*penalties[p.Key] = PenaltyItem{
			Score:  clamp(got.Score, float64(p.Min), 0),
			Reason: got.Reason,
		}
	}

	for i := range res.ImprovedVersions {
		if res.ImprovedVersions[i].Improvements == nil {
			res.ImprovedVersions[i].Improvements = []string{}
		}
	}

	return res, nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models add even in
// JSON response mode.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

// Encode renders r as compact JSON. Used by tests and the CLI.
func Encode(r *Result) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
