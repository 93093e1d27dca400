// Package convert provides Han-script detection helpers and the script
// converter used by the label resolution policy to turn simplified Chinese
// labels into traditional ones.
package convert

import (
	"fmt"
	"regexp"

	"github.com/longbridgeapp/opencc"
)

// Converter converts text between scripts. Implementations must be safe for
// concurrent use.
type Converter interface {
	Convert(s string) (string, error)
}

// NewOpenCC builds a Converter backed by an OpenCC conversion profile, e.g.
// "s2t" (simplified to traditional) or "s2twp" (simplified to traditional
// with Taiwan phrasing).
func NewOpenCC(conversion string) (Converter, error) {
	cc, err := opencc.New(conversion)
	if err != nil {
		return nil, fmt.Errorf("initializing opencc %q: %w", conversion, err)
	}
	return &openCCConverter{cc: cc}, nil
}

type openCCConverter struct {
	cc *opencc.OpenCC
}

func (c *openCCConverter) Convert(s string) (string, error) {
	return c.cc.Convert(s)
}

var (
	hanOnly = regexp.MustCompile(`^[\p{Han}-]+$`)
	hanAny  = regexp.MustCompile(`\p{Han}`)
)

// IsHan reports whether text consists entirely of Han characters (hyphens
// allowed, as in linked place names).
func IsHan(text string) bool {
	return text != "" && hanOnly.MatchString(text)
}

// ContainsHan reports whether text contains at least one Han character.
func ContainsHan(text string) bool {
	return hanAny.MatchString(text)
}

// IsSimplified reports whether text is Han script and survives a
// traditional-to-simplified conversion unchanged.
func IsSimplified(text string, t2s Converter) bool {
	if !IsHan(text) || t2s == nil {
		return false
	}
	out, err := t2s.Convert(text)
	return err == nil && out == text
}

// IsTraditional reports whether text is Han script and survives a
// simplified-to-traditional conversion unchanged.
func IsTraditional(text string, s2t Converter) bool {
	if !IsHan(text) || s2t == nil {
		return false
	}
	out, err := s2t.Convert(text)
	return err == nil && out == text
}
