package generate

import (
	"errors"
	"fmt"
	"strings"

	gosp "github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
)

// SentencePieceCounter counts tokens with a UNIGRAM SentencePiece model so
// the history budget matches what the model backend will actually consume.
type SentencePieceCounter struct {
	proc gosp.Sentencepiece
}

// NewSentencePieceCounter loads a SentencePiece model from modelPath.
func NewSentencePieceCounter(modelPath string) (*SentencePieceCounter, error) {
	if modelPath == "" {
		return nil, errors.New("tokenizer model path must not be empty")
	}

	proc, err := gosp.NewSentencepieceFromFile(modelPath, false)
	if err != nil {
		return nil, fmt.Errorf("load sentencepiece model %q: %w", modelPath, err)
	}

	return &SentencePieceCounter{proc: proc}, nil
}

func (c *SentencePieceCounter) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return len(c.proc.TokenizeToIDs(text)), nil
}

// WordCounter approximates token cost by whitespace-separated words. Used
// when no tokenizer model is configured.
type WordCounter struct{}

func (WordCounter) Count(text string) (int, error) {
	return len(strings.Fields(text)), nil
}
