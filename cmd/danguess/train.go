package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	dan "github.com/diyapatel231/HWDan"
	"github.com/diyapatel231/HWDan/dataset"
	"github.com/diyapatel231/HWDan/guesser"
)

var (
	flagTrainFile string
	flagEvalFile  string
	flagMetrics   string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a guesser on labeled questions and save the snapshot",
	RunE:  runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&flagTrainFile, "train", "", "training questions (JSON array or JSON lines)")
	trainCmd.Flags().StringVar(&flagEvalFile, "eval", "", "evaluation questions (JSON array or JSON lines)")
	trainCmd.Flags().StringVar(&flagMetrics, "metrics", "", "write per-batch and per-epoch metrics to this CSV file")
	trainCmd.MarkFlagRequired("train")
	trainCmd.MarkFlagRequired("eval")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	params, err := loadParameters()
	if err != nil {
		return err
	}
	tok, closer, err := newTokenizer()
	if err != nil {
		return err
	}
	defer closer.Close()

	training, err := dataset.LoadQuestions(flagTrainFile)
	if err != nil {
		return fmt.Errorf("loading training questions: %w", err)
	}
	eval, err := dataset.LoadQuestions(flagEvalFile)
	if err != nil {
		return fmt.Errorf("loading evaluation questions: %w", err)
	}
	slog.Info("questions loaded", "train", len(training), "eval", len(eval))

	recorder := dan.NewMetricsRecorder()
	g, err := guesser.New(params, tok, guesser.WithObserver(recorder))
	if err != nil {
		return err
	}
	accuracy, err := g.Train(training, eval)
	if err != nil {
		return err
	}
	if err := g.Save(); err != nil {
		return err
	}

	if flagMetrics != "" {
		f, err := os.Create(flagMetrics)
		if err != nil {
			return fmt.Errorf("creating metrics file: %w", err)
		}
		defer f.Close()
		if err := recorder.WriteCSV(f); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	fmt.Printf("final accuracy: %.4f (best %.4f)\n", accuracy, g.BestAccuracy())
	return nil
}
