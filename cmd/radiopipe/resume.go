package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"radiopipe/internal/executor"
	"radiopipe/internal/procedure"
	"radiopipe/internal/safeio"
	"radiopipe/internal/task"
)

func newResumeCmd(a *app) *cobra.Command {
	var (
		procFile  string
		name      string
		stage     int
		exitStage int
	)
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "continue a broken run from its last (or a named) checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(procFile)
			if err != nil {
				return fmt.Errorf("read procedure: %w", err)
			}
			reg := task.DefaultRegistry()
			proc, err := procedure.Parse(data, reg)
			if err != nil {
				return err
			}

			work, err := safeio.NewWorkDir(a.workdir)
			if err != nil {
				return fmt.Errorf("open working directory: %w", err)
			}
			c, err := executor.Resume(work, name, stage)
			if err != nil {
				return err
			}
			a.log.Info("resuming run",
				zap.String("context", name),
				zap.String("run_id", c.RunID),
				zap.Int("completed_stages", c.Stage()))

			env, err := a.buildEnvironment(cmd.Context(), c, proc.Name)
			if err != nil {
				return err
			}
			defer env.close(a)

			exec := &executor.Executor{
				Registry: reg,
				Runtime:  env.runtime,
				Events:   env.sink,
				Metrics:  env.metrics,
				Options: procedure.Options{
					ExitStage: exitStage,
					LogLevel:  c.LogLevel,
				},
			}
			return exec.Run(cmd.Context(), proc)
		},
	}
	cmd.Flags().StringVar(&procFile, "procedure", "", "procedure template YAML (required)")
	cmd.Flags().StringVar(&name, "name", "", "context directory name (required)")
	cmd.Flags().IntVar(&stage, "stage", 0, "checkpoint stage to resume from (default latest)")
	cmd.Flags().IntVar(&exitStage, "exit-stage", 0, "stop after this stage")
	_ = cmd.MarkFlagRequired("procedure")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
