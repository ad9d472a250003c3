package analysis

import (
	"strings"

	"golang.org/x/text/language"
)

// Locale selects the response language the model is told to use.
type Locale string

const (
	LocaleJA Locale = "ja"
	LocaleEN Locale = "en"

	DefaultLocale = LocaleJA
)

var localeMatcher = language.NewMatcher([]language.Tag{
	language.Japanese,
	language.English,
})

// NormalizeLocale maps a BCP 47 tag (or anything the client sent) onto one of
// the supported locales. Empty input yields DefaultLocale. Anything else
// that is not Japanese is answered in English.
func NormalizeLocale(raw string) Locale {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultLocale
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return LocaleEN
	}
	_, idx, conf := localeMatcher.Match(tag)
	if conf == language.No || idx == 1 {
		return LocaleEN
	}
	return LocaleJA
}

// Japanese reports whether the response should be in Japanese.
func (l Locale) Japanese() bool {
	return l != LocaleEN
}
