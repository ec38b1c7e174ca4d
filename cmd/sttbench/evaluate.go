package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/leonardotrapani/sttbench/internal/evaluation"
	"github.com/leonardotrapani/sttbench/internal/store"
	"github.com/leonardotrapani/sttbench/internal/tui"
)

func evaluateCmd() *cobra.Command {
	var (
		reference string
		sessionID string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate --reference FILE [provider=hypothesis.txt ...]",
		Short: "Score transcripts against a reference",
		Long: `Score hypothesis transcripts against a reference transcript.

Hypotheses are given as provider=path pairs, or taken from a stored
session with --session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(reference, sessionID, args, asJSON)
		},
	}

	cmd.Flags().StringVarP(&reference, "reference", "r", "", "reference transcript (yaml, json or plain text)")
	cmd.Flags().StringVar(&sessionID, "session", "", "score the transcripts of a stored session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print scores as JSON")
	_ = cmd.MarkFlagRequired("reference")

	return cmd
}

func runEvaluate(referencePath, sessionID string, args []string, asJSON bool) error {
	ref, err := evaluation.LoadReference(referencePath)
	if err != nil {
		return err
	}

	hypotheses, err := parseHypotheses(args)
	if err != nil {
		return err
	}
	if sessionID != "" {
		stored, err := storedHypotheses(sessionID)
		if err != nil {
			return err
		}
		for id, text := range stored {
			if _, ok := hypotheses[id]; !ok {
				hypotheses[id] = text
			}
		}
	}
	if len(hypotheses) == 0 {
		return fmt.Errorf("no hypotheses given")
	}

	scores := evaluation.Evaluate(ref.Text(), hypotheses)
	if asJSON {
		out, err := sonic.ConfigStd.MarshalIndent(evaluation.Rank(scores), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(tui.ScoreTable(scores))
	return nil
}

// parseHypotheses reads provider=path arguments.
func parseHypotheses(args []string) (map[string]string, error) {
	hypotheses := make(map[string]string, len(args))
	for _, arg := range args {
		id, path, ok := strings.Cut(arg, "=")
		if !ok || id == "" || path == "" {
			return nil, fmt.Errorf("invalid hypothesis %q, want provider=path", arg)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read hypothesis for %s: %w", id, err)
		}
		hypotheses[id] = strings.TrimSpace(string(data))
	}
	return hypotheses, nil
}

func storedHypotheses(sessionID string) (map[string]string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.New(cfg.ToStoreConfig())
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	defer st.Close(ctx)

	res, err := st.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	hypotheses := make(map[string]string, len(res.Providers))
	for id, pr := range res.Providers {
		hypotheses[id] = pr.FullText
	}
	return hypotheses, nil
}
