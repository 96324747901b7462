package guesser

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	dan "github.com/diyapatel231/HWDan"
	"github.com/diyapatel231/HWDan/config"
	"github.com/diyapatel231/HWDan/dataset"
	"github.com/diyapatel231/HWDan/models"
	"github.com/diyapatel231/HWDan/retrieve"
	"github.com/diyapatel231/HWDan/tokenizer"
	"github.com/diyapatel231/HWDan/utils"
)

var (
	// ErrNotTrained is returned when Predict, Evaluate or Save is called
	// before Train or Load has completed.
	ErrNotTrained = errors.New("guesser is not trained")

	// ErrAlreadyTrained is returned when Train is called a second time on
	// the same guesser.
	ErrAlreadyTrained = errors.New("guesser was already trained")

	// ErrEmptyDataset is returned when an evaluation pass is asked to
	// score zero examples.
	ErrEmptyDataset = errors.New("evaluation dataset is empty")
)

// State tracks how far a guesser has progressed through its lifecycle.
// Transitions are strictly forward; operations that require a later state
// fail instead of silently doing partial work.
type State int

const (
	StateIdle State = iota
	StateVocabBuilt
	StateModelInitialized
	StateTraining
	StateTrained
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateVocabBuilt:
		return "vocab-built"
	case StateModelInitialized:
		return "model-initialized"
	case StateTraining:
		return "training"
	case StateTrained:
		return "trained"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DanGuesser trains a deep averaging network over question text and answers
// new questions either by classification or by nearest-neighbor lookup over
// the learned representations of the training set, depending on the
// configured loss mode.
//
// All mutation of model parameters and the representation store happens on
// the goroutine that calls Train. Worker goroutines only assemble batches
// from the read-only dataset.
type DanGuesser struct {
	params   *config.Parameters
	tok      tokenizer.Tokenizer
	logger   *slog.Logger
	observer dan.Observer

	state     State
	loss      dan.LossMode
	model     *models.DanModel
	trainData *dataset.QuestionData
	evalData  *dataset.QuestionData
	store     *retrieve.Store

	bestAccuracy float64
}

// Option configures a DanGuesser beyond its parameters.
type Option func(*DanGuesser)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *DanGuesser) { g.logger = l }
}

// WithObserver attaches a training observer. A nil observer disables all
// hooks.
func WithObserver(o dan.Observer) Option {
	return func(g *DanGuesser) { g.observer = o }
}

// New builds an untrained guesser from validated parameters and a tokenizer.
func New(params *config.Parameters, tok tokenizer.Tokenizer, opts ...Option) (*DanGuesser, error) {
	if params == nil {
		return nil, errors.New("nil parameters")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if tok == nil {
		return nil, errors.New("nil tokenizer")
	}

	g := &DanGuesser{
		params: params,
		tok:    tok,
		logger: slog.Default(),
		state:  StateIdle,
		loss:   params.Loss,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// State reports the guesser's current lifecycle state.
func (g *DanGuesser) State() State { return g.state }

// BestAccuracy reports the highest evaluation accuracy seen so far.
func (g *DanGuesser) BestAccuracy() float64 { return g.bestAccuracy }

// Model exposes the underlying encoder, mainly for inspection in tests and
// tooling. Callers must not mutate it while Train is running.
func (g *DanGuesser) Model() *models.DanModel { return g.model }

// Train builds the vocabulary and answer index from the training examples,
// initializes the encoder, runs the configured number of epochs and returns
// the final accuracy on the evaluation examples. The evaluation set reuses
// the training answer index, so evaluation questions with unseen answers
// are excluded rather than remapped.
func (g *DanGuesser) Train(training, eval []dan.Question) (float64, error) {
	if g.state != StateIdle {
		return 0, fmt.Errorf("%w: state is %s", ErrAlreadyTrained, g.state)
	}
	p := g.params

	g.trainData = dataset.New(g.tok, g.loss, p.MaxClasses, p.MinAnswerFreq, p.Seed)
	voc := g.trainData.BuildVocab(training, p.TextField, p.VocabSize)
	g.state = StateVocabBuilt
	g.logger.Info("vocabulary built", "tokens", voc.Len(), "records", len(training))

	if err := g.trainData.SetData(training, p.TextField, p.AnswerField, nil); err != nil {
		return 0, fmt.Errorf("preparing training data: %w", err)
	}
	if g.trainData.Len() == 0 {
		return 0, errors.New("no trainable examples after filtering")
	}

	g.evalData = dataset.NewEval(g.tok, g.loss, p.MaxClasses, p.MinAnswerFreq, p.Seed)
	g.evalData.SetVocab(voc)
	if err := g.evalData.SetData(eval, p.TextField, p.AnswerField, g.trainData.AnswerIndex()); err != nil {
		return 0, fmt.Errorf("preparing evaluation data: %w", err)
	}

	model, err := models.NewDanModel(models.DanConfig{
		VocabSize:      voc.Len(),
		NumClasses:     g.trainData.NumAnswers(),
		EmbeddingDim:   p.EmbeddingDim,
		HiddenUnits:    p.HiddenUnits,
		Dropout:        p.Dropout,
		LossMode:       g.loss,
		Initialization: p.Initialization,
		Seed:           p.Seed,
	})
	if err != nil {
		return 0, fmt.Errorf("initializing model: %w", err)
	}
	g.model = model
	g.state = StateModelInitialized
	g.logger.Info("model initialized",
		"vocab", voc.Len(),
		"classes", g.trainData.NumAnswers(),
		"output_dim", model.OutputDim(),
		"loss", g.loss)

	if g.loss == dan.LossMarginRanking {
		store, err := retrieve.NewStore(g.trainData.Len(), p.HiddenUnits, dan.MetricSquaredL2)
		if err != nil {
			return 0, fmt.Errorf("initializing representation store: %w", err)
		}
		g.store = store
	}

	g.state = StateTraining
	var accuracy float64
	for epoch := 0; epoch < p.NumEpochs; epoch++ {
		epochAcc, epochLoss, err := g.runEpoch(epoch)
		if err != nil {
			return 0, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		accuracy = epochAcc
		if epochAcc > g.bestAccuracy {
			g.bestAccuracy = epochAcc
			g.logger.Info("new best accuracy", "epoch", epoch, "accuracy", epochAcc)
		}
		g.logger.Info("epoch finished", "epoch", epoch, "loss", epochLoss, "accuracy", epochAcc)
	}

	if g.loss == dan.LossMarginRanking {
		if err := g.rebuildRepresentations(); err != nil {
			return 0, err
		}
		accuracy, err = g.evaluateDataset(g.evalData)
		if err != nil {
			return 0, err
		}
	}
	g.state = StateTrained
	g.logger.Info("training finished", "accuracy", accuracy, "best", g.bestAccuracy)
	return accuracy, nil
}

// runEpoch performs one pass over the shuffled training set and returns the
// post-epoch evaluation accuracy along with the epoch's total loss.
func (g *DanGuesser) runEpoch(epoch int) (float64, float64, error) {
	p := g.params
	g.model.Train()

	// Ranking mode answers queries against the representations as they
	// stood at the last index refresh, never the half-updated rows.
	if g.loss == dan.LossMarginRanking {
		if err := g.rebuildRepresentations(); err != nil {
			return 0, 0, err
		}
		g.model.Train()
	}

	batches, err := dataset.Batches(g.trainData, p.BatchSize, true, p.NumWorkers)
	if err != nil {
		return 0, 0, fmt.Errorf("building batches: %w", err)
	}

	var epochLoss, windowLoss float64
	var windowCount int
	for i, batch := range batches {
		loss, err := g.batchStep(batch)
		if err != nil {
			return 0, 0, fmt.Errorf("batch %d: %w", i, err)
		}
		epochLoss += loss
		windowLoss += loss
		windowCount++

		if p.CheckpointEvery > 0 && (i+1)%p.CheckpointEvery == 0 {
			if g.loss == dan.LossMarginRanking {
				g.store.RefreshIndex()
			}
			avg := windowLoss / float64(windowCount)
			g.logger.Info("checkpoint", "epoch", epoch, "batch", i+1, "avg_loss", avg)
			if g.observer != nil {
				g.observer.OnBatch(epoch, i+1, avg)
			}
			windowLoss, windowCount = 0, 0
		}
	}

	if g.loss == dan.LossMarginRanking {
		g.store.RefreshIndex()
	}
	accuracy, err := g.evaluateDataset(g.evalData)
	if err != nil {
		return 0, 0, err
	}
	if g.observer != nil {
		g.observer.OnEpoch(epoch, accuracy, epochLoss)
	}
	return accuracy, epochLoss, nil
}

// batchStep runs one forward/backward/update cycle. In ranking mode it also
// writes the batch's fresh anchor representations back into the store; the
// queryable index only sees them at the next refresh.
func (g *DanGuesser) batchStep(batch *dataset.Batch) (float64, error) {
	p := g.params

	var loss float64
	var grads *models.Gradients
	var anchorOut *mat.Dense

	switch batch.Mode {
	case dan.LossCrossEntropy:
		out, cache, err := g.model.Forward(batch.Tokens, batch.Lengths)
		if err != nil {
			return 0, err
		}
		l, dOut, err := g.crossEntropy(out, batch.Answers)
		if err != nil {
			return 0, err
		}
		loss = l
		grads = g.model.Backward(cache, dOut)

	case dan.LossMarginRanking:
		aOut, aCache, err := g.model.Forward(batch.Tokens, batch.Lengths)
		if err != nil {
			return 0, err
		}
		pOut, pCache, err := g.model.Forward(batch.Contrast.PosTokens, batch.Contrast.PosLengths)
		if err != nil {
			return 0, err
		}
		nOut, nCache, err := g.model.Forward(batch.Contrast.NegTokens, batch.Contrast.NegLengths)
		if err != nil {
			return 0, err
		}
		l, dA, dP, dN := marginRanking(aOut, pOut, nOut, p.RankingMargin)
		loss = l
		grads = g.model.Backward(aCache, dA)
		grads.Add(g.model.Backward(pCache, dP))
		grads.Add(g.model.Backward(nCache, dN))
		anchorOut = aOut

	default:
		return 0, fmt.Errorf("unsupported loss mode %v", batch.Mode)
	}

	for _, stat := range grads.Sanitize(p.GradSanity) {
		if stat.Skipped {
			g.logger.Warn("gradient skipped", "tensor", stat.Name, "max_abs", stat.MaxAbs)
		}
		if g.observer != nil {
			g.observer.OnGradient(stat.Name, stat.MaxAbs, stat.Skipped)
		}
	}
	g.model.Step(grads, p.LearningRate, p.GradClip)

	if anchorOut != nil {
		if err := g.store.Set(batch.Indices, denseRows(anchorOut)); err != nil {
			return 0, fmt.Errorf("updating representation store: %w", err)
		}
	}
	return loss, nil
}

// crossEntropy computes the mean negative log-likelihood of the gold
// answers under a softmax over the logits, and the matching output
// gradient.
func (g *DanGuesser) crossEntropy(logits *mat.Dense, answers []string) (float64, *mat.Dense, error) {
	rows, cols := logits.Dims()
	if rows != len(answers) {
		return 0, nil, fmt.Errorf("logit rows %d do not match %d answers", rows, len(answers))
	}

	dOut := mat.NewDense(rows, cols, nil)
	invB := 1 / float64(rows)
	var loss float64
	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)
		maxLogit := row[0]
		for _, v := range row[1:] {
			if v > maxLogit {
				maxLogit = v
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(v - maxLogit)
		}
		logZ := maxLogit + math.Log(sum)

		gold, err := g.trainData.AnswerID(answers[i])
		if err != nil {
			return 0, nil, err
		}
		loss += logZ - row[gold]

		for j, v := range row {
			dOut.Set(i, j, math.Exp(v-logZ)*invB)
		}
		dOut.Set(i, gold, dOut.At(i, gold)-invB)
	}
	return loss * invB, dOut, nil
}

// marginRanking computes the mean margin ranking loss over a batch of
// anchor, positive and negative representations, together with the output
// gradients for each of the three forward passes. A triplet contributes
// nothing once the negative is at least margin farther than the positive.
func marginRanking(anchor, pos, neg *mat.Dense, margin float64) (float64, *mat.Dense, *mat.Dense, *mat.Dense) {
	rows, cols := anchor.Dims()
	dA := mat.NewDense(rows, cols, nil)
	dP := mat.NewDense(rows, cols, nil)
	dN := mat.NewDense(rows, cols, nil)

	invB := 1 / float64(rows)
	var loss float64
	for i := 0; i < rows; i++ {
		a := anchor.RawRowView(i)
		p := pos.RawRowView(i)
		n := neg.RawRowView(i)

		dPos := utils.EuclideanDistance(a, p)
		dNeg := utils.EuclideanDistance(a, n)
		l := margin + dPos - dNeg
		if l <= 0 {
			continue
		}
		loss += l

		for j := range a {
			if dPos > 0 {
				grad := (a[j] - p[j]) / dPos * invB
				dA.Set(i, j, dA.At(i, j)+grad)
				dP.Set(i, j, -grad)
			}
			if dNeg > 0 {
				grad := (a[j] - n[j]) / dNeg * invB
				dA.Set(i, j, dA.At(i, j)-grad)
				dN.Set(i, j, grad)
			}
		}
	}
	return loss * invB, dA, dP, dN
}

// rebuildRepresentations re-encodes every training example with the current
// parameters, writes the vectors into the store and refreshes the index so
// queries see a consistent snapshot. Dropout is disabled for the pass.
func (g *DanGuesser) rebuildRepresentations() error {
	wasTraining := g.model.Training()
	g.model.Eval()
	defer func() {
		if wasTraining {
			g.model.Train()
		}
	}()

	batches, err := dataset.Batches(g.trainData, g.params.BatchSize, false, g.params.NumWorkers)
	if err != nil {
		return fmt.Errorf("building representation batches: %w", err)
	}
	for _, batch := range batches {
		out, _, err := g.model.Forward(batch.Tokens, batch.Lengths)
		if err != nil {
			return err
		}
		if err := g.store.Set(batch.Indices, denseRows(out)); err != nil {
			return err
		}
	}
	g.store.RefreshIndex()
	return nil
}

// Evaluate scores the guesser on held-out records using the answer index
// frozen at training time. Records with answers outside that index are
// excluded from scoring.
func (g *DanGuesser) Evaluate(records []dan.Question) (float64, error) {
	if g.state != StateTrained {
		return 0, fmt.Errorf("%w: state is %s", ErrNotTrained, g.state)
	}
	p := g.params
	data := dataset.NewEval(g.tok, g.loss, p.MaxClasses, p.MinAnswerFreq, p.Seed)
	data.SetVocab(g.trainData.Vocab())
	if err := data.SetData(records, p.TextField, p.AnswerField, g.trainData.AnswerIndex()); err != nil {
		return 0, fmt.Errorf("preparing evaluation data: %w", err)
	}
	return g.evaluateDataset(data)
}

// evaluateDataset computes accuracy over a prepared dataset. Classification
// scores by argmax over the logits; ranking scores by the answer of the
// single nearest stored training representation.
func (g *DanGuesser) evaluateDataset(data *dataset.QuestionData) (float64, error) {
	if data.Len() == 0 {
		return 0, ErrEmptyDataset
	}
	wasTraining := g.model.Training()
	g.model.Eval()
	defer func() {
		if wasTraining {
			g.model.Train()
		}
	}()

	batches, err := dataset.Batches(data, g.params.BatchSize, false, g.params.NumWorkers)
	if err != nil {
		return 0, fmt.Errorf("building evaluation batches: %w", err)
	}

	var wrong, total int
	for _, batch := range batches {
		out, _, err := g.model.Forward(batch.Tokens, batch.Lengths)
		if err != nil {
			return 0, err
		}

		switch g.loss {
		case dan.LossCrossEntropy:
			for i, answer := range batch.Answers {
				gold, err := data.AnswerID(answer)
				if err != nil {
					return 0, err
				}
				if utils.Argmax(out.RawRowView(i)) != gold {
					wrong++
				}
				total++
			}

		case dan.LossMarginRanking:
			hits, err := g.store.QueryBatch(denseRows(out), 1)
			if err != nil {
				return 0, err
			}
			for i, answer := range batch.Answers {
				if len(hits[i]) == 0 || g.trainData.Answer(hits[i][0].Index) != answer {
					wrong++
				}
				total++
			}

		default:
			return 0, fmt.Errorf("unsupported loss mode %v", g.loss)
		}
	}
	return 1 - float64(wrong)/float64(total), nil
}

// Predict returns up to k ranked guesses for a question. Classification
// ranks answers by logit; ranking mode ranks the nearest stored training
// representations by distance.
func (g *DanGuesser) Predict(text string, k int) ([]dan.Guess, error) {
	if g.state != StateTrained {
		return nil, fmt.Errorf("%w: state is %s", ErrNotTrained, g.state)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	ids, err := g.trainData.Vectorize(text)
	if err != nil {
		return nil, err
	}
	g.model.Eval()
	out, _, err := g.model.Forward([][]int{ids}, []int{len(ids)})
	if err != nil {
		return nil, err
	}
	row := out.RawRowView(0)

	switch g.loss {
	case dan.LossCrossEntropy:
		if n := g.trainData.NumAnswers(); k > n {
			k = n
		}
		indices, _ := utils.TopK(row, k)
		guesses := make([]dan.Guess, 0, len(indices))
		for _, idx := range indices {
			label, err := g.trainData.AnswerLabel(idx)
			if err != nil {
				label = ""
			}
			guesses = append(guesses, dan.Guess{Guess: label})
		}
		return guesses, nil

	case dan.LossMarginRanking:
		hits, err := g.store.Query(row, k)
		if err != nil {
			return nil, err
		}
		guesses := make([]dan.Guess, 0, len(hits))
		for _, hit := range hits {
			guesses = append(guesses, dan.Guess{Guess: g.trainData.Answer(hit.Index)})
		}
		return guesses, nil

	default:
		return nil, fmt.Errorf("unsupported loss mode %v", g.loss)
	}
}

func denseRows(m *mat.Dense) [][]float64 {
	rows, _ := m.Dims()
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = m.RawRowView(i)
	}
	return out
}
