package chunk

import (
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// TokenCounter estimates how many model tokens a text occupies.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter approximates tokens as words plus punctuation and
// symbol runes. Appending text never lowers the count, so greedy
// packing against a budget stays safe.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	words, punct := 0, 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			inWord = false
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct++
			inWord = false
		default:
			if !inWord {
				words++
				inWord = true
			}
		}
	}
	return words + punct
}

// TiktokenCounter counts tokens with a real BPE encoding. The encoder
// fetches its vocabulary on first use, so construction can fail
// offline.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the given encoding (default cl100k_base).
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	const op = "chunk.NewTiktokenCounter"

	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.Permanent, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

var (
	_ TokenCounter = HeuristicCounter{}
	_ TokenCounter = (*TiktokenCounter)(nil)
)
