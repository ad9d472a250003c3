package analysis

// Tier groups scoring facets.
type Tier struct {
	Name   string
	Total  int
	Facets []Facet
}

// Facet is one rubric entry the model is asked to score.
type Facet struct {
	Key  string
	Max  int
	Hint string
}

// PenaltyFacet is a negative-only rubric entry. Min is the lowest score the
// model is told to use (e.g. -15).
type PenaltyFacet struct {
	Key  string
	Min  int
	From int
	Hint string
}

// GradeBand maps a score range to a letter.
type GradeBand struct {
	Grade Grade
	Low   int
	High  int
	Label string
}

const (
	ImprovementCount     = 5
	ImprovedVersionCount = 3
)

// Tiers is the fixed scoring rubric. Prompt and decoder both read it.
var Tiers = []Tier{
	{
		Name:  "Tier 1: Core Engagement",
		Total: 60,
		Facets: []Facet{
			{Key: "replyPotential", Max: 22, Hint: "Does it invite replies? Direct questions, controversial opinions, relatable struggles"},
			{Key: "retweetPotential", Max: 16, Hint: "Is it share-worthy? Actionable insights, surprising facts, valuable information"},
			{Key: "favoritePotential", Max: 12, Hint: "Does it resonate emotionally? Personal stories, humor, inspiration"},
			{Key: "quotePotential", Max: 10, Hint: "Does it invite commentary? Strong opinions, debatable claims"},
		},
	},
	{
		Name:  "Tier 2: Extended Engagement",
		Total: 25,
		Facets: []Facet{
			{Key: "dwellTime", Max: 6, Hint: "Will users spend time reading? Long-form, detailed content"},
			{Key: "continuousDwellTime", Max: 4, Hint: "Is there a narrative arc? Thread potential, storytelling"},
			{Key: "clickPotential", Max: 5, Hint: "Compelling links with CTAs"},
			{Key: "photoExpand", Max: 4, Hint: "Multiple images, visual storytelling"},
			{Key: "videoView", Max: 3, Hint: "Video content with strong hooks (>5 sec retention)"},
			{Key: "quotedClick", Max: 3, Hint: "Bold claims that invite verification"},
		},
	},
	{
		Name:  "Tier 3: Relationship Building",
		Total: 15,
		Facets: []Facet{
			{Key: "profileClick", Max: 5, Hint: "Does it make users curious about the author?"},
			{Key: "followPotential", Max: 4, Hint: "Does it demonstrate ongoing value?"},
			{Key: "sharePotential", Max: 2, Hint: "General shareability"},
			{Key: "shareViaDM", Max: 2, Hint: "\"I need to send this to someone\" content"},
			{Key: "shareViaCopyLink", Max: 2, Hint: "Bookmark-worthy content"},
		},
	},
}

// PenaltyFacets lists the penalty rubric.
var PenaltyFacets = []PenaltyFacet{
	{Key: "notInterested", From: -5, Min: -15, Hint: "Clickbait, misleading content"},
	{Key: "muteRisk", From: -5, Min: -15, Hint: "Repetitive patterns, spam-like behavior"},
	{Key: "blockRisk", From: -10, Min: -25, Hint: "Aggressive tone, personal attacks"},
	{Key: "reportRisk", From: -15, Min: -30, Hint: "Policy violations, harmful content"},
}

// GradeBands is ordered from best to worst.
var GradeBands = []GradeBand{
	{Grade: GradeS, Low: 90, High: 100, Label: "Exceptional recommendation potential"},
	{Grade: GradeA, Low: 80, High: 89, Label: "High recommendation potential"},
	{Grade: GradeB, Low: 70, High: 79, Label: "Good engagement expected"},
	{Grade: GradeC, Low: 60, High: 69, Label: "Average performance"},
	{Grade: GradeD, Low: 40, High: 59, Label: "Below average"},
	{Grade: GradeF, Low: 0, High: 39, Label: "Poor engagement likely"},
}

// FacetCount returns the number of scored facets across all tiers.
func FacetCount() int {
	n := 0
	for _, t := range Tiers {
		n += len(t.Facets)
	}
	return n
}

// GradeFor returns the band letter for a total score.
func GradeFor(total float64) Grade {
	for _, b := range GradeBands {
		if total >= float64(b.Low) {
			return b.Grade
		}
	}
	return GradeF
}
