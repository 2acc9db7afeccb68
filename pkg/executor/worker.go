package executor

import (
	"context"

	"github.com/waivern-compliance/waivern/pkg/planner"
	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/statestore"
	"github.com/waivern-compliance/waivern/pkg/telemetry"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// runArtifact executes one artifact: a reuse copy, a source extraction, or
// a derived artifact's gather-merge-process. It returns the terminal status
// to record and, on anything other than SUCCEEDED, the error that caused it.
func (e *Executor) runArtifact(ctx context.Context, plan *planner.ExecutionPlan, node *planner.PlanNode) (statestore.Status, error) {
	if ctx.Err() != nil {
		return statestore.StatusCancelled, ctx.Err()
	}

	kind := "derived"
	op := "process"
	if node.IsSource() {
		kind, op = "source", "extract"
	}
	if e.Telemetry != nil {
		ctx = telemetry.WithArtifactContext(ctx, plan.RunID, node.ArtifactID, kind, op)
	}

	var status statestore.Status
	var err error
	switch {
	case node.Reuse != nil:
		status, err = e.runReuse(ctx, plan, node)
	case node.IsSource():
		status, err = e.runSource(ctx, plan, node)
	default:
		status, err = e.runProcessor(ctx, plan, node)
	}

	if e.Telemetry != nil {
		telemetry.EndArtifactContext(ctx, plan.RunID, node.ArtifactID, string(status), err)
	}
	return status, err
}

func (e *Executor) runReuse(ctx context.Context, plan *planner.ExecutionPlan, node *planner.PlanNode) (statestore.Status, error) {
	msg, err := e.artifacts.Get(ctx, node.Reuse.FromRun, node.Reuse.Artifact)
	if err != nil {
		return statestore.StatusFailed, err
	}
	if ctx.Err() != nil {
		return statestore.StatusCancelled, ctx.Err()
	}
	if err := e.artifacts.Save(ctx, plan.RunID, node.ArtifactID, msg); err != nil {
		return statestore.StatusFailed, err
	}
	return statestore.StatusSucceeded, nil
}

func (e *Executor) runSource(ctx context.Context, plan *planner.ExecutionPlan, node *planner.PlanNode) (statestore.Status, error) {
	src, err := e.registry.CreateSource(node.SourceType, node.Properties)
	if err != nil {
		return statestore.StatusFailed, err
	}
	defer src.Close(context.Background())

	var msg schema.Message
	extractErr := e.instrument(ctx, node.SourceType, "extract", func() error {
		var extractErr error
		msg, extractErr = src.Extract(ctx)
		return extractErr
	})
	if extractErr != nil {
		if ctx.Err() != nil {
			return statestore.StatusCancelled, ctx.Err()
		}
		return statestore.StatusFailed, waivernerr.New(waivernerr.KindSource, "source extract failed", extractErr).
			WithArtifact(node.ArtifactID).WithCode(waivernerr.CodeSource)
	}
	if ctx.Err() != nil {
		return statestore.StatusCancelled, ctx.Err()
	}
	if !schemaDeclared(msg.Schema, src.OutputSchemas()) {
		return statestore.StatusFailed, waivernerr.New(waivernerr.KindSchemaIncompatibility,
			"source produced undeclared schema "+msg.Schema.String(), nil).
			WithArtifact(node.ArtifactID).WithCode(waivernerr.CodeSchemaIncompatibility)
	}
	if err := e.artifacts.Save(ctx, plan.RunID, node.ArtifactID, msg); err != nil {
		return statestore.StatusFailed, err
	}
	return statestore.StatusSucceeded, nil
}

func (e *Executor) runProcessor(ctx context.Context, plan *planner.ExecutionPlan, node *planner.PlanNode) (statestore.Status, error) {
	inputs := make([]schema.Message, 0, len(node.Inputs))
	for _, inputID := range node.Inputs {
		msg, err := e.artifacts.Get(ctx, plan.RunID, inputID)
		if err != nil {
			return statestore.StatusFailed, err
		}
		inputs = append(inputs, msg)
	}

	if ctx.Err() != nil {
		return statestore.StatusCancelled, ctx.Err()
	}

	if node.Merge == "concatenate" && len(inputs) > 1 {
		merged, err := mergeConcatenate(inputs)
		if err != nil {
			return statestore.StatusFailed, waivernerr.New(waivernerr.KindProcessor,
				"concatenate merge failed", err).WithArtifact(node.ArtifactID).WithCode(waivernerr.CodeProcessor)
		}
		inputs = []schema.Message{merged}
	}

	proc, err := e.registry.CreateProcessor(node.ProcessType, node.Properties)
	if err != nil {
		return statestore.StatusFailed, err
	}
	defer proc.Close(context.Background())

	var msg schema.Message
	processErr := e.instrument(ctx, node.ProcessType, "process", func() error {
		var processErr error
		msg, processErr = proc.Process(ctx, inputs, node.ResolvedSchema)
		return processErr
	})
	if processErr != nil {
		if ctx.Err() != nil {
			return statestore.StatusCancelled, ctx.Err()
		}
		return statestore.StatusFailed, waivernerr.New(waivernerr.KindProcessor, "processor failed", processErr).
			WithArtifact(node.ArtifactID).WithCode(waivernerr.CodeProcessor)
	}
	if ctx.Err() != nil {
		return statestore.StatusCancelled, ctx.Err()
	}
	if !schemaDeclared(msg.Schema, proc.OutputSchemas()) {
		return statestore.StatusFailed, waivernerr.New(waivernerr.KindSchemaIncompatibility,
			"processor produced undeclared schema "+msg.Schema.String(), nil).
			WithArtifact(node.ArtifactID).WithCode(waivernerr.CodeSchemaIncompatibility)
	}
	if err := e.artifacts.Save(ctx, plan.RunID, node.ArtifactID, msg); err != nil {
		return statestore.StatusFailed, err
	}
	return statestore.StatusSucceeded, nil
}

// instrument wraps a component call with telemetry when available, or runs
// fn directly.
func (e *Executor) instrument(ctx context.Context, componentName, operation string, fn func() error) error {
	if e.Telemetry == nil {
		return fn()
	}
	return telemetry.RecordComponentOperation(ctx, componentName, operation, fn)
}

// mergeConcatenate implements the `merge: concatenate` fan-in policy: every
// input message must carry sequence content, and the merged message takes
// the schema of its first input (plan-time resolution already verified all
// inputs share a compatible schema).
func mergeConcatenate(inputs []schema.Message) (schema.Message, error) {
	contents := make([]schema.Content, 0, len(inputs))
	for _, msg := range inputs {
		contents = append(contents, msg.Content)
	}
	merged, err := schema.Concat(contents...)
	if err != nil {
		return schema.Message{}, err
	}
	return schema.Message{
		ID:      inputs[0].ID,
		Schema:  inputs[0].Schema,
		Content: merged,
	}, nil
}

// schemaDeclared reports whether produced matches one of declared. An
// empty declared list means the factory makes no static promise, which the
// registry already validated against at plan time.
func schemaDeclared(produced schema.Schema, declared []schema.Schema) bool {
	if len(declared) == 0 {
		return true
	}
	for _, d := range declared {
		if d.Equal(produced) {
			return true
		}
	}
	return false
}
