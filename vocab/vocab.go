// Package vocab provides the frozen token vocabulary shared by the guesser's
// training and inference paths. Id 0 is reserved for padding and id 1 for
// unknown tokens; both exist in every vocabulary regardless of the corpus.
package vocab

import (
	"fmt"
	"sort"
)

// Reserved tokens. PadToken always maps to id 0, UnkToken to id 1.
const (
	PadToken = "<pad>"
	UnkToken = "<unk>"
)

// PadID is the reserved padding id. The encoder's embedding row at this id
// stays zero and never receives gradient updates.
const PadID = 0

// UnkID is the reserved unknown-token id.
const UnkID = 1

// Vocabulary is a bidirectional, bounded token-id mapping. It is built once
// from training text and frozen; all lookups afterwards are read-only, so a
// single instance can be shared across data-loading workers.
type Vocabulary struct {
	tokenToID map[string]int
	idToToken []string
}

// Build constructs a vocabulary from token streams. Tokens are ranked by
// descending frequency, ties broken lexically, and capped at maxTokens
// (including the two reserved ids); maxTokens <= 0 means unbounded. Tokens
// seen fewer than minFreq times are excluded.
func Build(tokenStreams [][]string, maxTokens, minFreq int) *Vocabulary {
	counts := make(map[string]int)
	for _, stream := range tokenStreams {
		for _, tok := range stream {
			counts[tok]++
		}
	}

	type tokenCount struct {
		token string
		count int
	}
	ranked := make([]tokenCount, 0, len(counts))
	for tok, c := range counts {
		if minFreq > 0 && c < minFreq {
			continue
		}
		ranked = append(ranked, tokenCount{tok, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].token < ranked[j].token
	})

	// The reserved ids count against the cap, so a cap below 2 leaves
	// room for nothing else.
	if maxTokens > 0 {
		keep := maxTokens - 2
		if keep < 0 {
			keep = 0
		}
		if len(ranked) > keep {
			ranked = ranked[:keep]
		}
	}

	tokens := make([]string, 0, len(ranked)+2)
	tokens = append(tokens, PadToken, UnkToken)
	for _, tc := range ranked {
		tokens = append(tokens, tc.token)
	}
	return FromTokens(tokens)
}

// FromTokens reconstructs a vocabulary from its ordered token list, as
// produced by Tokens. Used when restoring a persisted snapshot.
func FromTokens(tokens []string) *Vocabulary {
	v := &Vocabulary{
		tokenToID: make(map[string]int, len(tokens)),
		idToToken: append([]string(nil), tokens...),
	}
	for id, tok := range v.idToToken {
		v.tokenToID[tok] = id
	}
	return v
}

// Len returns the vocabulary size including the reserved ids.
func (v *Vocabulary) Len() int {
	return len(v.idToToken)
}

// ID maps a token to its id, or UnkID for out-of-vocabulary tokens.
func (v *Vocabulary) ID(token string) int {
	if id, ok := v.tokenToID[token]; ok {
		return id
	}
	return UnkID
}

// Token maps an id back to its token.
func (v *Vocabulary) Token(id int) (string, error) {
	if id < 0 || id >= len(v.idToToken) {
		return "", fmt.Errorf("token id %d out of range [0, %d)", id, len(v.idToToken))
	}
	return v.idToToken[id], nil
}

// Lookup maps a token sequence to its id sequence.
func (v *Vocabulary) Lookup(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		ids[i] = v.ID(tok)
	}
	return ids
}

// Tokens returns the ordered token list for persistence.
func (v *Vocabulary) Tokens() []string {
	return append([]string(nil), v.idToToken...)
}
