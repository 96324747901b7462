package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diyapatel231/HWDan/guesser"
)

var flagTopK int

var predictCmd = &cobra.Command{
	Use:   "predict [question words...]",
	Short: "Answer a question with a previously trained guesser",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPredict,
}

func init() {
	predictCmd.Flags().IntVarP(&flagTopK, "top", "k", 1, "number of ranked guesses to print")
	rootCmd.AddCommand(predictCmd)
}

func runPredict(cmd *cobra.Command, args []string) error {
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

	text := strings.Join(args, " ")
	guesses, err := g.Predict(text, flagTopK)
	if err != nil {
		return err
	}
	for i, guess := range guesses {
		fmt.Printf("%d. %s\n", i+1, guess.Guess)
	}
	return nil
}
