// Package task is the execution-unit framework: a Spec declares what a task
// needs, BuildInputs resolves parameters against the run Context, Execute
// issues the CASA calls, and the result is packaged as a pipeline.Results
// for the caller to merge.
package task

import (
	"context"

	"go.uber.org/zap"

	"radiopipe/internal/casa"
	"radiopipe/internal/domain"
	"radiopipe/internal/pipeline"
	"radiopipe/internal/products"
	"radiopipe/internal/safeio"
)

// Phase tracks one task invocation through its lifecycle. Merged is reached
// only by the caller, after Results.MergeWithContext succeeds.
type Phase string

const (
	PhaseConstructed Phase = "constructed"
	PhasePrepared    Phase = "prepared"
	PhaseExecuted    Phase = "executed"
	PhaseAnalysed    Phase = "analysed"
	PhaseMerged      Phase = "merged"
)

// Runtime is the shared environment handed to every task. The Context is
// read for defaults during BuildInputs and Execute; tasks never mutate it
// directly — all mutation flows through the merge of their Results.
type Runtime struct {
	Context  *pipeline.Context
	Gateway  casa.Gateway
	Work     *safeio.WorkDir
	Log      *zap.Logger
	Metadata *domain.MetadataCache
	Products products.Store // nil disables product upload

	// Tier0Workers bounds the fan-out pool of tasks that scatter
	// independent per-target sub-work.
	Tier0Workers int
}

// Logger never returns nil.
func (rt *Runtime) Logger() *zap.Logger {
	if rt == nil || rt.Log == nil {
		return zap.NewNop()
	}
	return rt.Log
}

// Inputs is the resolved parameter set of one invocation. Vis defaults to
// every measurement set registered in the Context when a task does not name
// its own.
type Inputs struct {
	Vis    []string
	Field  string
	Spw    string
	Intent string
	Solint string
	Refant string

	// Params keeps task-specific extras from the procedure document.
	Params map[string]any
}

// Execution is what a task's Execute returns, before analysis packages it
// into a Results.
type Execution struct {
	Outcome  pipeline.Outcome
	QA       []pipeline.QAScore
	Failures []pipeline.ItemFailure
}

// Spec declares one task. Execute must not touch the Context; everything it
// wants recorded goes into the Execution.
type Spec struct {
	Key         string
	Description string

	// PerMSIsolation marks tasks documented to support the
	// "one bad MS skips, the batch continues" policy.
	PerMSIsolation bool

	BuildInputs func(ctx context.Context, rt *Runtime, params map[string]any) (Inputs, error)
	// Prepare is optional: tasks that distinguish planning from execution
	// compute their CASA sub-calls here without issuing them.
	Prepare func(ctx context.Context, rt *Runtime, in *Inputs) error
	Execute func(ctx context.Context, rt *Runtime, in Inputs) (Execution, error)
}
