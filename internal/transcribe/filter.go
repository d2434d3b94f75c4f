package transcribe

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// ErrNoSpeech marks transcriber output rejected by the noise filter. It is
// reported to the caller, never treated as a pipeline failure.
var ErrNoSpeech = errors.New("no speech detected")

// DefaultMinLength is the minimum rune count a transcript must keep after
// marker stripping.
const DefaultMinLength = 2

// Recognizers emit parenthetical or bracketed markers for non-speech audio:
// "(inaudible)", "[BLANK_AUDIO]", "*coughs*", "♪ music ♪".
var markerPattern = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]|\{[^}]*\}|\*[^*]*\*|♪[^♪]*♪?`)

// Filter rejects transcripts that are empty, under minLength speakable
// runes, or consist solely of non-speech markers. On acceptance it returns
// the trimmed transcript.
func Filter(raw string, minLength int) (string, error) {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrNoSpeech
	}

	stripped := markerPattern.ReplaceAllString(trimmed, "")

	var speakable int
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			speakable++
		}
	}

	if speakable < minLength {
		return "", ErrNoSpeech
	}

	return trimmed, nil
}
