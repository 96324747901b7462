// Package tokenizer turns raw question text into token strings. The guesser
// treats tokenization as a black box behind the Tokenizer interface; the
// vocabulary maps whatever tokens come out of it onto a bounded integer
// alphabet.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenizer converts text into a token sequence.
type Tokenizer interface {
	Tokenize(text string) []string
}

// WordTokenizer splits text into lowercase word tokens. Runs of letters or
// digits form tokens; punctuation is emitted as single-character tokens so
// that "what's" becomes ["what", "'", "s"], close to NLTK's word_tokenize
// for plain English questions.
type WordTokenizer struct {
	Lowercase bool
}

// NewWordTokenizer creates a word tokenizer with lowercasing enabled.
func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{Lowercase: true}
}

// Tokenize converts text into word tokens
func (t *WordTokenizer) Tokenize(text string) []string {
	if t.Lowercase {
		text = strings.ToLower(text)
	}

	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			tokens = append(tokens, string(r))
		}
	}
	flush()

	return tokens
}
