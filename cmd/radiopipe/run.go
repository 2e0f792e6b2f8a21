package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"radiopipe/internal/executor"
	"radiopipe/internal/pipeline"
	"radiopipe/internal/procedure"
	"radiopipe/internal/task"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		procFile   string
		name       string
		project    string
		vis        []string
		startStage int
		exitStage  int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "execute a procedure template against the working directory",
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
			injectVis(&proc, vis)

			if name == "" {
				name = "pipeline-" + time.Now().UTC().Format("20060102T150405")
			}
			if err := a.ensureContextDir(name); err != nil {
				return err
			}
			c := pipeline.NewContext(name, project, a.workdir)
			c.LogLevel = strings.ToLower(a.logLevel)

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
					StartStage: startStage,
					ExitStage:  exitStage,
					LogLevel:   c.LogLevel,
				},
			}
			return exec.Run(cmd.Context(), proc)
		},
	}
	cmd.Flags().StringVar(&procFile, "procedure", "", "procedure template YAML (required)")
	cmd.Flags().StringVar(&name, "name", "", "context directory name (default pipeline-<timestamp>)")
	cmd.Flags().StringVar(&project, "project", "", "project code recorded with the run")
	cmd.Flags().StringSliceVar(&vis, "vis", nil, "measurement sets for the import stage")
	cmd.Flags().IntVar(&startStage, "start-stage", 0, "first stage to run (1-based)")
	cmd.Flags().IntVar(&exitStage, "exit-stage", 0, "stop after this stage")
	_ = cmd.MarkFlagRequired("procedure")
	return cmd
}

// injectVis supplies the command-line MS list to import stages that do not
// name their own.
func injectVis(p *procedure.Procedure, vis []string) {
	if len(vis) == 0 {
		return
	}
	for i := range p.Steps {
		if p.Steps[i].Task != "importdata" {
			continue
		}
		if p.Steps[i].Params == nil {
			p.Steps[i].Params = map[string]any{}
		}
		if _, ok := p.Steps[i].Params["vis"]; !ok {
			p.Steps[i].Params["vis"] = append([]string(nil), vis...)
		}
	}
}
