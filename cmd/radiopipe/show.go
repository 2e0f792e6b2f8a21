package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"radiopipe/internal/executor"
	"radiopipe/internal/safeio"
)

// showSummary is the operator-facing view of a saved context.
type showSummary struct {
	Name            string             `json:"name"`
	RunID           string             `json:"run_id"`
	Project         string             `json:"project,omitempty"`
	CompletedStages int                `json:"completed_stages"`
	MeasurementSets []string           `json:"measurement_sets,omitempty"`
	PendingTargets  int                `json:"pending_targets"`
	Images          int                `json:"images"`
	Products        int                `json:"products"`
	FlagTotals      map[string]float64 `json:"flag_totals,omitempty"`
	Totals          map[string]int     `json:"totals,omitempty"`
	Stages          []showStage        `json:"stages,omitempty"`
}

type showStage struct {
	Stage    int     `json:"stage"`
	Task     string  `json:"task"`
	QAScore  float64 `json:"qa_score"`
	Failures int     `json:"failures,omitempty"`
}

func newShowCmd(a *app) *cobra.Command {
	var (
		name  string
		stage int
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "inspect a saved context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			work, err := safeio.NewWorkDir(a.workdir)
			if err != nil {
				return fmt.Errorf("open working directory: %w", err)
			}
			c, err := executor.Resume(work, name, stage)
			if err != nil {
				return err
			}
			out := showSummary{
				Name:            c.Name,
				RunID:           c.RunID,
				Project:         c.ProjectCode,
				CompletedStages: c.Stage(),
				MeasurementSets: c.ObservingRun.Names(),
				PendingTargets:  len(c.PendingTargets),
				Images:          len(c.Images),
				Products:        len(c.Products),
				FlagTotals:      c.FlagTotals,
				Totals:          c.Totals,
			}
			for _, r := range c.History {
				qa, _ := r.QA.Representative()
				out.Stages = append(out.Stages, showStage{
					Stage:    r.Stage,
					Task:     r.Task,
					QAScore:  qa.Value,
					Failures: len(r.Failures),
				})
			}
			raw, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "context directory name (required)")
	cmd.Flags().IntVar(&stage, "stage", 0, "checkpoint stage to show (default latest)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
