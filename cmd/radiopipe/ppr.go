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

func newPPRCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "ppr <request.xml>",
		Short: "execute an observatory processing request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read processing request: %w", err)
			}
			reg := task.DefaultRegistry()
			proc, opts, project, err := procedure.ParsePPR(data, reg)
			if err != nil {
				return err
			}

			if name == "" {
				name = "ppr-" + time.Now().UTC().Format("20060102T150405")
			}
			if err := a.ensureContextDir(name); err != nil {
				return err
			}
			c := pipeline.NewContext(name, project, a.workdir)
			c.LogLevel = opts.LogLevel
			if c.LogLevel == "" {
				c.LogLevel = strings.ToLower(a.logLevel)
			}

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
				Options:  opts,
			}
			return exec.Run(cmd.Context(), proc)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "context directory name (default ppr-<timestamp>)")
	return cmd
}
