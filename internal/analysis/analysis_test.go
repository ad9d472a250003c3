package analysis

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRubricTierTotals(t *testing.T) {
	sum := 0
	for _, tier := range Tiers {
		tierSum := 0
		for _, f := range tier.Facets {
			tierSum += f.Max
		}
		assert.Equal(t, tier.Total, tierSum, tier.Name)
		sum += tierSum
	}
	assert.Equal(t, 100, sum)
	assert.Equal(t, 15, FacetCount())
	assert.Len(t, PenaltyFacets, 4)
}

func TestBreakdownItemsMatchRubric(t *testing.T) {
	var b ScoreBreakdown
	var got []string
	for k := range b.Items() {
		got = append(got, k)
	}
	var want []string
	for _, tier := range Tiers {
		for _, f := range tier.Facets {
			want = append(want, f.Key)
		}
	}
	sort.Strings(got)
	sort.Strings(want)
	require.Equal(t, want, got)

	var p Penalties
	var pgot, pwant []string
	for k := range p.Items() {
		pgot = append(pgot, k)
	}
	for _, f := range PenaltyFacets {
		pwant = append(pwant, f.Key)
	}
	sort.Strings(pgot)
	sort.Strings(pwant)
	require.Equal(t, pwant, pgot)
}

func TestGradeFor(t *testing.T) {
	cases := map[float64]Grade{
		100: GradeS, 90: GradeS, 89.5: GradeA, 80: GradeA, 79: GradeB,
		70: GradeB, 60: GradeC, 59: GradeD, 40: GradeD, 39: GradeF, 0: GradeF,
	}
	for score, want := range cases {
		assert.Equal(t, want, GradeFor(score), "score %v", score)
	}
}

func TestPhaseTerminal(t *testing.T) {
	for _, p := range []Phase{PhaseStart, PhaseParsing, PhaseCalculating, PhaseGenerating} {
		assert.False(t, p.Terminal(), p)
	}
	assert.True(t, PhaseComplete.Terminal())
	assert.True(t, PhaseError.Terminal())
	assert.True(t, ErrorEvent(ErrNetwork).Terminal())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
	assert.Equal(t, ErrAnalysisFailed, CodeOf(errors.New("boom")))

	wrapped := fmt.Errorf("call upstream: %w", NewError(ErrRateLimitExceeded, errors.New("429")))
	assert.Equal(t, ErrRateLimitExceeded, CodeOf(wrapped))
	assert.Contains(t, wrapped.Error(), "RATE_LIMIT_EXCEEDED")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, ErrTextTooLong.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, ErrInvalidRequest.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, ErrCustomAPIKeyRequiresHTTPS.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, ErrAPIKeyNotConfigured.HTTPStatus())
	assert.True(t, ErrTextRequired.Boundary())
	assert.False(t, ErrNetwork.Boundary())
}

func TestNormalizeLocale(t *testing.T) {
	cases := map[string]Locale{
		"":      LocaleJA,
		"ja":    LocaleJA,
		"ja-JP": LocaleJA,
		"en":    LocaleEN,
		"en-US": LocaleEN,
		"EN-gb": LocaleEN,
		"fr":    LocaleEN,
		"zh-TW": LocaleEN,
		"!!":    LocaleEN,
		" ja ":  LocaleJA,
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLocale(in), "input %q", in)
	}
}

func TestRequestValidate(t *testing.T) {
	cases := []struct {
		name string
		text string
		want ErrorCode
	}{
		{name: "empty", text: "", want: ErrTextRequired},
		{name: "whitespace", text: " \n\t　", want: ErrTextRequired},
		{name: "at limit", text: strings.Repeat("👨‍👩‍👧", 280), want: ""},
		{name: "over limit", text: strings.Repeat("é", 281), want: ErrTextTooLong},
		{name: "short", text: "hello", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Request{Text: tc.text}.Validate())
		})
	}
}
