// Package analysis holds the post analysis data model shared by the prompt
// compiler, the pipeline and the HTTP layer.
package analysis

import (
	"strings"

	"github.com/straja-ai/postscore/internal/grapheme"
)

// Grade is the letter grade assigned to a post.
type Grade string

const (
	GradeS Grade = "S"
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Valid reports whether g is one of the six known letters.
func (g Grade) Valid() bool {
	switch g {
	case GradeS, GradeA, GradeB, GradeC, GradeD, GradeF:
		return true
	default:
		return false
	}
}

// Request is one user submission. It is never mutated after construction.
type Request struct {
	Text       string
	Locale     Locale
	Credential string
}

// HasCustomCredential reports whether the caller supplied its own key.
func (r Request) HasCustomCredential() bool {
	return r.Credential != ""
}

// Validate checks the text before anything is sent upstream. It returns
// TEXT_REQUIRED or TEXT_TOO_LONG, or "" when the request may proceed.
func (r Request) Validate() ErrorCode {
	switch {
	case strings.TrimSpace(r.Text) == "":
		return ErrTextRequired
	case grapheme.Exceeds(r.Text, grapheme.MaxPostLength):
		return ErrTextTooLong
	}
	return ""
}

type ScoreItem struct {
	Score  float64 `json:"score"`
	Max    float64 `json:"max"`
	Reason string  `json:"reason"`
}

type PenaltyItem struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// ScoreBreakdown carries the 15 rubric facets.
type ScoreBreakdown struct {
	// Tier 1
	ReplyPotential    ScoreItem `json:"replyPotential"`
	RetweetPotential  ScoreItem `json:"retweetPotential"`
	FavoritePotential ScoreItem `json:"favoritePotential"`
	QuotePotential    ScoreItem `json:"quotePotential"`

	// Tier 2
	DwellTime           ScoreItem `json:"dwellTime"`
	ContinuousDwellTime ScoreItem `json:"continuousDwellTime"`
	ClickPotential      ScoreItem `json:"clickPotential"`
	PhotoExpand         ScoreItem `json:"photoExpand"`
	VideoView           ScoreItem `json:"videoView"`
	QuotedClick         ScoreItem `json:"quotedClick"`

	// Tier 3
	ProfileClick     ScoreItem `json:"profileClick"`
	FollowPotential  ScoreItem `json:"followPotential"`
	SharePotential   ScoreItem `json:"sharePotential"`
	ShareViaDM       ScoreItem `json:"shareViaDM"`
	ShareViaCopyLink ScoreItem `json:"shareViaCopyLink"`
}

// Items indexes the breakdown by rubric key.
func (b *ScoreBreakdown) Items() map[string]*ScoreItem {
	return map[string]*ScoreItem{
		"replyPotential":      &b.ReplyPotential,
		"retweetPotential":    &b.RetweetPotential,
		"favoritePotential":   &b.FavoritePotential,
		"quotePotential":      &b.QuotePotential,
		"dwellTime":           &b.DwellTime,
		"continuousDwellTime": &b.ContinuousDwellTime,
		"clickPotential":      &b.ClickPotential,
		"photoExpand":         &b.PhotoExpand,
		"videoView":           &b.VideoView,
		"quotedClick":         &b.QuotedClick,
		"profileClick":        &b.ProfileClick,
		"followPotential":     &b.FollowPotential,
		"sharePotential":      &b.SharePotential,
		"shareViaDM":          &b.ShareViaDM,
		"shareViaCopyLink":    &b.ShareViaCopyLink,
	}
}

// Sum adds up the facet scores.
func (b *ScoreBreakdown) Sum() float64 {
	total := 0.0
	for _, item := range b.Items() {
		total += item.Score
	}
	return total
}

type Penalties struct {
	NotInterested PenaltyItem `json:"notInterested"`
	MuteRisk      PenaltyItem `json:"muteRisk"`
	BlockRisk     PenaltyItem `json:"blockRisk"`
	ReportRisk    PenaltyItem `json:"reportRisk"`
}

// Items indexes the penalties by rubric key.
func (p *Penalties) Items() map[string]*PenaltyItem {
	return map[string]*PenaltyItem{
		"notInterested": &p.NotInterested,
		"muteRisk":      &p.MuteRisk,
		"blockRisk":     &p.BlockRisk,
		"reportRisk":    &p.ReportRisk,
	}
}

type Improvement struct {
	Priority     int     `json:"priority"`
	Suggestion   string  `json:"suggestion"`
	ExpectedGain float64 `json:"expectedGain"`
}

type ImprovedVersion struct {
	Title        string   `json:"title"`
	Text         string   `json:"text"`
	Improvements []string `json:"improvements"`
}

// Result is the terminal artifact of one successful analysis.
type Result struct {
	TotalScore       float64           `json:"totalScore"`
	Grade            Grade             `json:"grade"`
	Breakdown        ScoreBreakdown    `json:"breakdown"`
	Penalties        Penalties         `json:"penalties"`
	Improvements     []Improvement     `json:"improvements"`
	ImprovedVersions []ImprovedVersion `json:"improvedVersions"`
}

// Phase is a stage of one streaming session.
type Phase string

const (
	PhaseStart       Phase = "start"
	PhaseParsing     Phase = "parsing"
	PhaseCalculating Phase = "calculating"
	PhaseGenerating  Phase = "generating"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
)

// Terminal reports whether no event may follow this phase.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Event is the only unit sent over the stream transport.
type Event struct {
	Phase    Phase     `json:"phase"`
	Progress int       `json:"progress"`
	Data     *Result   `json:"data,omitempty"`
	Error    ErrorCode `json:"error,omitempty"`
}

// Terminal reports whether e ends the session.
func (e Event) Terminal() bool {
	return e.Phase.Terminal()
}

// ErrorEvent builds the terminal failure event for code.
func ErrorEvent(code ErrorCode) Event {
	return Event{Phase: PhaseError, Progress: 0, Error: code}
}
