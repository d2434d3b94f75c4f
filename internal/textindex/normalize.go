package textindex

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyText is returned when input normalizes to nothing speakable.
var ErrEmptyText = errors.New("empty utterance after normalization")

// NeutralLanguageTag wraps text whose language the caller left unspecified.
const NeutralLanguageTag = "x"

// Normalize prepares raw input text for indexing:
//  1. Unicode canonicalization (NFKC).
//  2. Strip symbols the vocabulary cannot speak (emoji, control runes,
//     markup remnants), keeping letters, digits, spaces and punctuation.
//  3. Collapse whitespace runs to single spaces and trim.
//  4. Ensure a terminal punctuation mark so the duration predictor sees a
//     closed phrase.
func Normalize(s string) (string, error) {
	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case unicode.IsPunct(r):
			b.WriteRune(r)
		}
	}
	s = b.String()

	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	s = strings.TrimSpace(s)

	if s == "" {
		return "", ErrEmptyText
	}

	last, _ := utf8.DecodeLastRuneInString(s)
	if !isTerminal(last) {
		s += "."
	}

	return s, nil
}

// WrapLanguage frames normalized text with a language tag. The indexer maps
// the tag runes like any other characters; a missing language uses the
// neutral tag.
func WrapLanguage(s, lang string) string {
	tag := strings.ToLower(strings.TrimSpace(lang))
	if tag == "" {
		tag = NeutralLanguageTag
	}
	return "<" + tag + ">" + s
}

// SplitSegments splits normalized text on sentence terminators, keeping the
// terminator attached. Single-sentence input comes back unchanged.
func SplitSegments(text string) []string {
	var segments []string
	start := 0

	for i, r := range text {
		if isTerminal(r) {
			s := strings.TrimSpace(text[start : i+1])
			if s != "" {
				segments = append(segments, s)
			}
			start = i + 1
		}
	}

	if start < len(text) {
		s := strings.TrimSpace(text[start:])
		if s != "" {
			segments = append(segments, s)
		}
	}

	return segments
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
