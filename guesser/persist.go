package guesser

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	dan "github.com/diyapatel231/HWDan"
	"github.com/diyapatel231/HWDan/dataset"
	"github.com/diyapatel231/HWDan/models"
	"github.com/diyapatel231/HWDan/retrieve"
	"github.com/diyapatel231/HWDan/vocab"
)

const (
	lockTimeout       = 5 * time.Second
	lockRetryInterval = 50 * time.Millisecond
)

// modelSnapshot is the persisted form of a trained encoder plus the frozen
// vocabulary and answer index it was trained against.
type modelSnapshot struct {
	Loss         string
	State        map[string]models.Tensor
	VocabTokens  []string
	AnswerIndex  []string
	EmbeddingDim int
	HiddenUnits  int
	Dropout      float64
}

// storeSnapshot is the persisted form of the representation store, written
// only in ranking mode. Questions and answers are the training rows the
// store's vectors belong to, in store order.
type storeSnapshot struct {
	Rows      [][]float64
	Questions []string
	Answers   []string
}

func (g *DanGuesser) modelPath() string { return g.params.ModelFile + ".model.gob" }
func (g *DanGuesser) storePath() string { return g.params.ModelFile + ".store.gob" }
func (g *DanGuesser) lockPath() string  { return g.params.ModelFile + ".lock" }

// acquireLock takes the snapshot file lock, polling until the deadline so
// two processes sharing a model file cannot interleave partial writes.
func acquireLock(path string, exclusive bool) (*flock.Flock, error) {
	lk := flock.New(path)
	deadline := time.Now().Add(lockTimeout)
	for {
		var locked bool
		var err error
		if exclusive {
			locked, err = lk.TryLock()
		} else {
			locked, err = lk.TryRLock()
		}
		if err != nil {
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		if locked {
			return lk, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock on %s", path)
		}
		time.Sleep(lockRetryInterval)
	}
}

// Save writes the trained guesser to its configured snapshot files: the
// model snapshot always, and the store snapshot additionally in ranking
// mode.
func (g *DanGuesser) Save() error {
	if g.state != StateTrained {
		return fmt.Errorf("%w: state is %s", ErrNotTrained, g.state)
	}

	lk, err := acquireLock(g.lockPath(), true)
	if err != nil {
		return err
	}
	defer lk.Unlock()

	snap := modelSnapshot{
		Loss:         g.loss.String(),
		State:        g.model.StateDict(),
		VocabTokens:  g.trainData.Vocab().Tokens(),
		AnswerIndex:  g.trainData.AnswerIndex(),
		EmbeddingDim: g.params.EmbeddingDim,
		HiddenUnits:  g.params.HiddenUnits,
		Dropout:      g.params.Dropout,
	}
	if err := writeGob(g.modelPath(), &snap); err != nil {
		return fmt.Errorf("saving model: %w", err)
	}

	if g.loss == dan.LossMarginRanking {
		n := g.trainData.Len()
		stSnap := storeSnapshot{
			Rows:      g.store.Rows(),
			Questions: make([]string, n),
			Answers:   make([]string, n),
		}
		for i := 0; i < n; i++ {
			stSnap.Questions[i] = g.trainData.Question(i)
			stSnap.Answers[i] = g.trainData.Answer(i)
		}
		if err := writeGob(g.storePath(), &stSnap); err != nil {
			return fmt.Errorf("saving representation store: %w", err)
		}
	}
	g.logger.Info("guesser saved", "model", g.modelPath(), "loss", g.loss)
	return nil
}

// Load restores the guesser from its configured snapshot files. The loaded
// guesser is immediately usable for Predict and Evaluate; it cannot be
// trained further.
func (g *DanGuesser) Load() error {
	lk, err := acquireLock(g.lockPath(), false)
	if err != nil {
		return err
	}
	defer lk.Unlock()

	var snap modelSnapshot
	if err := readGob(g.modelPath(), &snap); err != nil {
		return fmt.Errorf("loading model: %w", err)
	}
	loss, err := dan.ParseLossMode(snap.Loss)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}

	voc := vocab.FromTokens(snap.VocabTokens)
	model, err := models.NewDanModel(models.DanConfig{
		VocabSize:    voc.Len(),
		NumClasses:   len(snap.AnswerIndex),
		EmbeddingDim: snap.EmbeddingDim,
		HiddenUnits:  snap.HiddenUnits,
		Dropout:      snap.Dropout,
		LossMode:     loss,
		Seed:         g.params.Seed,
	})
	if err != nil {
		return fmt.Errorf("reconstructing model: %w", err)
	}
	if err := model.LoadStateDict(snap.State); err != nil {
		return fmt.Errorf("restoring parameters: %w", err)
	}
	model.Eval()

	data := dataset.NewEval(g.tok, loss, g.params.MaxClasses, g.params.MinAnswerFreq, g.params.Seed)
	data.SetVocab(voc)

	if loss == dan.LossMarginRanking {
		var stSnap storeSnapshot
		if err := readGob(g.storePath(), &stSnap); err != nil {
			return fmt.Errorf("loading representation store: %w", err)
		}
		store, err := retrieve.FromRows(stSnap.Rows, dan.MetricSquaredL2)
		if err != nil {
			return fmt.Errorf("restoring representation store: %w", err)
		}
		store.RefreshIndex()
		g.store = store
		data.Restore(snap.AnswerIndex, stSnap.Questions, stSnap.Answers)
	} else {
		data.Restore(snap.AnswerIndex, nil, nil)
	}

	g.loss = loss
	g.model = model
	g.trainData = data
	g.state = StateTrained
	g.logger.Info("guesser loaded", "model", g.modelPath(), "loss", loss)
	return nil
}

func writeGob(path string, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func readGob(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
