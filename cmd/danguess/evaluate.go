package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diyapatel231/HWDan/dataset"
	"github.com/diyapatel231/HWDan/guesser"
)

var flagEvalDataFile string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a previously trained guesser on held-out questions",
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&flagEvalDataFile, "data", "", "questions to score (JSON array or JSON lines)")
	evaluateCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	params, err := loadParameters()
	if err != nil {
		return err
	}
	tok, closer, err := newTokenizer()
	if err != nil {
		return err
	}
	defer closer.Close()

	g, err := guesser.New(params, tok)
	if err != nil {
		return err
	}
	if err := g.Load(); err != nil {
		return err
	}

	records, err := dataset.LoadQuestions(flagEvalDataFile)
	if err != nil {
		return fmt.Errorf("loading questions: %w", err)
	}
	accuracy, err := g.Evaluate(records)
	if err != nil {
		return err
	}
	fmt.Printf("accuracy: %.4f over %d questions\n", accuracy, len(records))
	return nil
}
