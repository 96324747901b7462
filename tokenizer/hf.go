package tokenizer

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// HFTokenizer wraps a HuggingFace tokenizer.json file behind the Tokenizer
// interface. The subword strings it produces flow through the frozen
// vocabulary exactly like word tokens, so a trained guesser is tied to
// whichever tokenizer built its vocabulary.
type HFTokenizer struct {
	tokenizer *tokenizers.Tokenizer
}

// NewHFTokenizer creates a tokenizer from a tokenizer.json file
func NewHFTokenizer(tokenizerPath string) (*HFTokenizer, error) {
	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	return &HFTokenizer{tokenizer: tk}, nil
}

// Tokenize converts text into subword tokens
func (ht *HFTokenizer) Tokenize(text string) []string {
	encoding := ht.tokenizer.EncodeWithOptions(text, false, tokenizers.WithReturnTokens())
	return encoding.Tokens
}

// Close releases tokenizer resources
func (ht *HFTokenizer) Close() error {
	if ht.tokenizer != nil {
		ht.tokenizer.Close()
		ht.tokenizer = nil
	}
	return nil
}
