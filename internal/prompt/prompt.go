// Package prompt renders the scoring instruction sent to the model.
package prompt

import (
	"strings"
	"text/template"

	"github.com/straja-ai/postscore/internal/analysis"
)

var scoringTemplate = template.Must(template.New("scoring").Funcs(template.FuncMap{
	"seq":  seq,
	"last": func(i, n int) bool { return i == n-1 },
}).Parse(`You are an expert X (Twitter) post analyst. Analyze the following post and score it across {{.FactorCount}} engagement factors based on X's recommendation algorithm.

Post content:
"""
{{.Text}}
"""

Score each factor and provide reasons. Response language: {{.Language}}

## Scoring Criteria
{{range .Tiers}}
### {{.Name}} ({{.Total}} points total)
{{range .Facets}}- {{.Key}} (max {{.Max}}): {{.Hint}}
{{end}}{{end}}
### Penalties (negative scores)
{{range .Penalties}}- {{.Key}} ({{.From}} to {{.Min}}): {{.Hint}}
{{end}}
## Grading Scale
{{range .Grades}}- {{.Grade}}: {{.Low}}-{{.High}} ({{.Label}})
{{end}}
Respond with ONLY valid JSON in this exact format:
{
  "totalScore": <number 0-100>,
  "grade": "<S|A|B|C|D|F>",
  "breakdown": {
{{- range $i, $f := .Facets}}
    "{{$f.Key}}": { "score": <number>, "max": {{$f.Max}}, "reason": "<string>" }{{if not (last $i $.FacetTotal)}},{{end}}
{{- end}}
  },
  "penalties": {
{{- range $i, $p := .Penalties}}
    "{{$p.Key}}": { "score": <number 0 or negative>, "reason": "<string>" }{{if not (last $i $.PenaltyTotal)}},{{end}}
{{- end}}
  },
  "improvements": [
{{- range $i := seq .ImprovementCount}}
    { "priority": {{$i}}, "suggestion": "<string>", "expectedGain": <number> }{{if lt $i $.ImprovementCount}},{{end}}
{{- end}}
  ],
  "improvedVersions": [
{{- range $i := seq .VersionCount}}
    {
      "title": "<string - short title describing the improvement approach>",
      "text": "<string - improved version of the post>",
      "improvements": ["<string - specific improvement 1>", "<string - specific improvement 2>"]
    }{{if lt $i $.VersionCount}},{{end}}
{{- end}}
  ]
}`))

type templateData struct {
	Text             string
	Language         string
	FactorCount      int
	Tiers            []analysis.Tier
	Facets           []analysis.Facet
	FacetTotal       int
	Penalties        []analysis.PenaltyFacet
	PenaltyTotal     int
	Grades           []analysis.GradeBand
	ImprovementCount int
	VersionCount     int
}

// Compile embeds text verbatim into the scoring instruction. The output only
// depends on its arguments.
func Compile(text string, locale analysis.Locale) string {
	var facets []analysis.Facet
	for _, t := range analysis.Tiers {
		facets = append(facets, t.Facets...)
	}

	lang := "English"
	if locale.Japanese() {
		lang = "Japanese"
	}

	data := templateData{
		Text:             text,
		Language:         lang,
		FactorCount:      len(facets) + len(analysis.PenaltyFacets),
		Tiers:            analysis.Tiers,
		Facets:           facets,
		FacetTotal:       len(facets),
		Penalties:        analysis.PenaltyFacets,
		PenaltyTotal:     len(analysis.PenaltyFacets),
		Grades:           analysis.GradeBands,
		ImprovementCount: analysis.ImprovementCount,
		VersionCount:     analysis.ImprovedVersionCount,
	}

	var b strings.Builder
	if err := scoringTemplate.Execute(&b, data); err != nil {
		panic("prompt: execute scoring template: " + err.Error())
	}
	return b.String()
}

// seq returns 1..n.
func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
