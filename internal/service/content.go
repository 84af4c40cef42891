package service

import (
	"unicode"
	"unicode/utf8"

	"github.com/ofair/referrals/internal/domain"
)

// ContentGate is the pass/fail quality check applied to free text before it
// is stored.
type ContentGate interface {
	Check(text string) error
}

// BasicContentGate accepts valid UTF-8 up to MaxRunes runes without control
// characters other than newlines and tabs.
type BasicContentGate struct {
	MaxRunes int
}

func NewBasicContentGate() BasicContentGate {
	return BasicContentGate{MaxRunes: 1000}
}

func (g BasicContentGate) Check(text string) error {
	if !utf8.ValidString(text) {
		return domain.Validationf("text is not valid UTF-8")
	}
	if g.MaxRunes > 0 && utf8.RuneCountInString(text) > g.MaxRunes {
		return domain.Validationf("text longer than %d characters", g.MaxRunes)
	}
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return domain.Validationf("text contains control characters")
		}
	}
	return nil
}
