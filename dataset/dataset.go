// Package dataset turns raw labeled question records into the guesser's
// training structures: the frozen answer index, lazily vectorized examples
// with contrastive sampling, and padded rectangular batches.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	dan "github.com/diyapatel231/HWDan"
	"github.com/diyapatel231/HWDan/tokenizer"
	"github.com/diyapatel231/HWDan/vocab"
)

// Sentinel errors for data consistency failures. These indicate upstream
// filtering was violated and must not be swallowed.
var (
	// ErrUnknownAnswer is returned when a gold label is absent from the
	// frozen answer index.
	ErrUnknownAnswer = errors.New("answer not in frozen answer index")

	// ErrNoPositiveExample is returned in ranking mode when a label has
	// no second example to sample a positive from; the answer-frequency
	// threshold let through a singleton class.
	ErrNoPositiveExample = errors.New("label has no positive candidate")

	// ErrNoNegativeExample is returned in ranking mode when every example
	// shares one label, leaving nothing to sample negatives from.
	ErrNoNegativeExample = errors.New("label has no negative candidate")

	// ErrNoVocabulary is returned when vectorization is attempted before
	// a vocabulary is built or assigned.
	ErrNoVocabulary = errors.New("vocabulary not set")
)

// Example is one instance: a token-id sequence, its gold answer, and, for
// ranking-mode training data only, one freshly sampled positive and
// negative token-id sequence. Examples are built lazily per batch and
// immutable once constructed.
type Example struct {
	Tokens   []int
	Answer   string
	Positive []int
	Negative []int
}

// QuestionData owns the filtered question/answer lists, the frozen answer
// index, and for ranking-mode training data the per-label candidate pools
// for contrastive sampling. After SetData everything except the sampling
// RNG is read-only, so batch-building workers can share one instance.
type QuestionData struct {
	tok           tokenizer.Tokenizer
	lossMode      dan.LossMode
	training      bool
	maxClasses    int
	minAnswerFreq int

	vocabulary *vocab.Vocabulary

	questions   []string
	answers     []string
	answerIndex []string
	answerPos   map[string]int

	positives [][]int
	negatives [][]int

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an empty training QuestionData for the given loss mode. In
// ranking mode SetData will build contrastive pools and therefore requires
// every label to have at least two examples.
func New(tok tokenizer.Tokenizer, lossMode dan.LossMode, maxClasses, minAnswerFreq int, seed int64) *QuestionData {
	d := NewEval(tok, lossMode, maxClasses, minAnswerFreq, seed)
	d.training = true
	return d
}

// NewEval creates an empty QuestionData for evaluation or inference. It
// never builds contrastive pools: those passes read anchors only, so labels
// with a single example are acceptable regardless of loss mode.
func NewEval(tok tokenizer.Tokenizer, lossMode dan.LossMode, maxClasses, minAnswerFreq int, seed int64) *QuestionData {
	return &QuestionData{
		tok:           tok,
		lossMode:      lossMode,
		maxClasses:    maxClasses,
		minAnswerFreq: minAnswerFreq,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// contrastive reports whether examples carry sampled positive and negative
// sequences. Only ranking-mode training data does.
func (d *QuestionData) contrastive() bool {
	return d.lossMode == dan.LossMarginRanking && d.training
}

// BuildVocab builds a bounded vocabulary from the records' text fields and
// installs it. The vocabulary is frozen afterwards.
func (d *QuestionData) BuildVocab(records []dan.Question, textField string, vocabSize int) *vocab.Vocabulary {
	streams := make([][]string, 0, len(records))
	for _, rec := range records {
		streams = append(streams, d.tok.Tokenize(rec[textField]))
	}
	d.vocabulary = vocab.Build(streams, vocabSize, 0)
	return d.vocabulary
}

// SetVocab installs an already-built vocabulary, shared by read-only
// reference with the evaluation and inference paths.
func (d *QuestionData) SetVocab(v *vocab.Vocabulary) { d.vocabulary = v }

// Vocab returns the installed vocabulary.
func (d *QuestionData) Vocab() *vocab.Vocabulary { return d.vocabulary }

// SetData filters records to answerable ones and freezes the answer index.
// Records missing the answer field are excluded from answer-index
// construction. When fixAnswers is non-nil that list is reused verbatim so
// the evaluation set sees exactly the training set's answer index, and
// records with out-of-list answers are excluded rather than remapped.
func (d *QuestionData) SetData(records []dan.Question, textField, answerField string, fixAnswers []string) error {
	counts := make(map[string]int)
	for _, rec := range records {
		if ans := rec[answerField]; ans != "" {
			counts[ans]++
		}
	}

	if fixAnswers != nil {
		d.answerIndex = append([]string(nil), fixAnswers...)
	} else {
		type labelCount struct {
			label string
			count int
		}
		valid := make([]labelCount, 0, len(counts))
		for label, count := range counts {
			if d.minAnswerFreq > 0 && count < d.minAnswerFreq {
				continue
			}
			valid = append(valid, labelCount{label, count})
		}
		sort.Slice(valid, func(i, j int) bool {
			if valid[i].count != valid[j].count {
				return valid[i].count > valid[j].count
			}
			return valid[i].label < valid[j].label
		})
		if d.maxClasses > 0 && len(valid) > d.maxClasses {
			valid = valid[:d.maxClasses]
		}
		d.answerIndex = make([]string, len(valid))
		for i, lc := range valid {
			d.answerIndex[i] = lc.label
		}
	}

	d.answerPos = make(map[string]int, len(d.answerIndex))
	for i, label := range d.answerIndex {
		d.answerPos[label] = i
	}

	d.questions = d.questions[:0]
	d.answers = d.answers[:0]
	for _, rec := range records {
		ans := rec[answerField]
		if ans == "" {
			continue
		}
		if _, ok := d.answerPos[ans]; !ok {
			continue
		}
		d.questions = append(d.questions, rec[textField])
		d.answers = append(d.answers, ans)
	}

	if d.contrastive() {
		return d.buildContrastivePools()
	}
	d.positives = nil
	d.negatives = nil
	return nil
}

// buildContrastivePools precomputes, for each example, the indices it may
// sample positives (same label) and negatives (different label) from.
func (d *QuestionData) buildContrastivePools() error {
	byLabel := make(map[string][]int)
	for i, ans := range d.answers {
		byLabel[ans] = append(byLabel[ans], i)
	}

	d.positives = make([][]int, len(d.questions))
	d.negatives = make([][]int, len(d.questions))
	for i, ans := range d.answers {
		same := byLabel[ans]
		pos := make([]int, 0, len(same)-1)
		for _, j := range same {
			if j != i {
				pos = append(pos, j)
			}
		}
		if len(pos) == 0 {
			return fmt.Errorf("%w: label %q has a single example; raise min answer frequency", ErrNoPositiveExample, ans)
		}

		neg := make([]int, 0, len(d.questions)-len(same))
		for j, other := range d.answers {
			if other != ans {
				neg = append(neg, j)
			}
		}
		if len(neg) == 0 {
			return fmt.Errorf("%w: label %q covers the whole training set", ErrNoNegativeExample, ans)
		}

		d.positives[i] = pos
		d.negatives[i] = neg
	}
	return nil
}

// Restore installs a previously frozen answer index and, optionally, the
// parallel question/answer lists, when reconstructing a guesser from a
// persisted snapshot. Contrastive pools are not rebuilt; a restored
// dataset serves lookups and inference, not training.
func (d *QuestionData) Restore(answerIndex, questions, answers []string) {
	d.answerIndex = append([]string(nil), answerIndex...)
	d.answerPos = make(map[string]int, len(d.answerIndex))
	for i, label := range d.answerIndex {
		d.answerPos[label] = i
	}
	d.questions = append([]string(nil), questions...)
	d.answers = append([]string(nil), answers...)
	d.positives = nil
	d.negatives = nil
}

// Len returns how many filtered questions are in the dataset.
func (d *QuestionData) Len() int { return len(d.questions) }

// Question returns the raw text at the given ordinal index.
func (d *QuestionData) Question(i int) string { return d.questions[i] }

// Answer returns the gold label at the given ordinal index.
func (d *QuestionData) Answer(i int) string { return d.answers[i] }

// AnswerIndex returns a copy of the frozen, ordered answer label list.
func (d *QuestionData) AnswerIndex() []string {
	return append([]string(nil), d.answerIndex...)
}

// NumAnswers returns the frozen class count.
func (d *QuestionData) NumAnswers() int { return len(d.answerIndex) }

// AnswerID resolves a gold label to its position in the frozen answer
// index. A missing label is a data consistency failure: it should have
// been filtered out during dataset construction.
func (d *QuestionData) AnswerID(label string) (int, error) {
	pos, ok := d.answerPos[label]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAnswer, label)
	}
	return pos, nil
}

// AnswerLabel resolves a frozen answer-index position back to its label.
func (d *QuestionData) AnswerLabel(id int) (string, error) {
	if id < 0 || id >= len(d.answerIndex) {
		return "", fmt.Errorf("answer id %d out of range [0, %d)", id, len(d.answerIndex))
	}
	return d.answerIndex[id], nil
}

// Vectorize tokenizes text and maps every token through the frozen
// vocabulary; unknown tokens map to the reserved unknown id.
func (d *QuestionData) Vectorize(text string) ([]int, error) {
	if d.vocabulary == nil {
		return nil, ErrNoVocabulary
	}
	return d.vocabulary.Lookup(d.tok.Tokenize(text)), nil
}

// ExampleAt builds the example at the given ordinal index. For ranking-mode
// training data it samples one positive and one negative uniformly at random
// on every access, so repeated epochs see different contrastive pairs.
// Evaluation and inference examples are anchor-only.
func (d *QuestionData) ExampleAt(i int) (Example, error) {
	if i < 0 || i >= len(d.questions) {
		return Example{}, fmt.Errorf("example index %d out of range [0, %d)", i, len(d.questions))
	}

	tokens, err := d.Vectorize(d.questions[i])
	if err != nil {
		return Example{}, err
	}
	ex := Example{Tokens: tokens, Answer: d.answers[i]}

	if d.contrastive() {
		posIdx, negIdx := d.samplePair(i)
		if ex.Positive, err = d.Vectorize(d.questions[posIdx]); err != nil {
			return Example{}, err
		}
		if ex.Negative, err = d.Vectorize(d.questions[negIdx]); err != nil {
			return Example{}, err
		}
	}
	return ex, nil
}

// samplePair draws one positive and one negative candidate index. The RNG
// is the only mutable state shared with batch-building workers, so draws
// are serialized.
func (d *QuestionData) samplePair(i int) (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pos := d.positives[i][d.rng.Intn(len(d.positives[i]))]
	neg := d.negatives[i][d.rng.Intn(len(d.negatives[i]))]
	return pos, neg
}

// shuffledIndices returns a fresh permutation of example indices.
func (d *QuestionData) shuffledIndices() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Perm(len(d.questions))
}

// orderedIndices returns example indices in dataset order.
func (d *QuestionData) orderedIndices() []int {
	indices := make([]int, len(d.questions))
	for i := range indices {
		indices[i] = i
	}
	return indices
}
