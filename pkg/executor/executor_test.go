package executor_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waivern-compliance/waivern/pkg/artifactstore"
	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/executor"
	"github.com/waivern-compliance/waivern/pkg/planner"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/statestore"
)

// --- fake components -------------------------------------------------

var textSchema = mustSchema("text_line", "1.0.0")
var indicatorSchema = mustSchema("indicator", "1.0.0")

func mustSchema(name, version string) schema.Schema {
	s, err := schema.New(name, version)
	if err != nil {
		panic(err)
	}
	return s
}

// fakeSource emits a fixed sequence message, or an error, or blocks until
// ctx is cancelled (to exercise timeout cancellation).
type fakeSource struct {
	lines []string
	err   error
	block bool
}

func (f *fakeSource) Extract(ctx context.Context) (schema.Message, error) {
	if f.block {
		<-ctx.Done()
		return schema.Message{}, ctx.Err()
	}
	if f.err != nil {
		return schema.Message{}, f.err
	}
	items := make([]schema.Content, len(f.lines))
	for i, l := range f.lines {
		items[i] = schema.Scalar(l)
	}
	return schema.Message{ID: "msg", Schema: textSchema, Content: schema.Sequence(items...)}, nil
}

func (f *fakeSource) OutputSchemas() []schema.Schema { return []schema.Schema{textSchema} }
func (f *fakeSource) Close(context.Context) error    { return nil }

type fakeSourceFactory struct{ factory func() component.Source }

func (f fakeSourceFactory) Create(component.Properties) (component.Source, error) {
	return f.factory(), nil
}
func (f fakeSourceFactory) OutputSchemas() []schema.Schema { return []schema.Schema{textSchema} }
func (f fakeSourceFactory) ConfigSchema() string           { return "" }

// fakeProcessor counts the scalar items across its inputs and emits a
// single-scalar indicator message with the count.
type fakeProcessor struct {
	err error
}

func (f *fakeProcessor) Process(_ context.Context, inputs []schema.Message, outputSchema schema.Schema) (schema.Message, error) {
	if f.err != nil {
		return schema.Message{}, f.err
	}
	total := 0
	for _, in := range inputs {
		total += len(in.Content.Items())
	}
	return schema.Message{ID: "indicator", Schema: outputSchema, Content: schema.Scalar(total)}, nil
}

func (f *fakeProcessor) InputRequirements() [][]component.InputRequirement {
	return [][]component.InputRequirement{{{Schema: textSchema}}}
}
func (f *fakeProcessor) OutputSchemas() []schema.Schema { return []schema.Schema{indicatorSchema} }
func (f *fakeProcessor) Close(context.Context) error    { return nil }

type fakeProcessorFactory struct{ err error }

func (f fakeProcessorFactory) Create(component.Properties) (component.Processor, error) {
	return &fakeProcessor{err: f.err}, nil
}
func (f fakeProcessorFactory) InputRequirements() [][]component.InputRequirement {
	return [][]component.InputRequirement{{{Schema: textSchema}}}
}
func (f fakeProcessorFactory) OutputSchemas() []schema.Schema { return []schema.Schema{indicatorSchema} }
func (f fakeProcessorFactory) ConfigSchema() string           { return "" }

// --- test helpers ------------------------------------------------------

func newPlan(nodes map[string]*planner.PlanNode) *planner.ExecutionPlan {
	dependents := make(map[string][]string)
	for id, node := range nodes {
		for _, in := range node.Inputs {
			dependents[in] = append(dependents[in], id)
		}
	}
	return &planner.ExecutionPlan{
		RunID:          planner.NewRunID(),
		RunbookHash:    "testhash",
		MaxConcurrency: 4,
		Nodes:          nodes,
		Dependents:     dependents,
	}
}

func newHarness(t *testing.T) (*registry.Registry, artifactstore.Store, statestore.Store) {
	t.Helper()
	reg := registry.New()
	return reg, artifactstore.NewMemoryStore(), statestore.NewMemoryStore()
}

// --- S1: single source -> single processor ------------------------------

func TestRun_SingleSourceSingleProcessor(t *testing.T) {
	reg, artifacts, state := newHarness(t)
	reg.RegisterSource("fake_text", fakeSourceFactory{factory: func() component.Source {
		return &fakeSource{lines: []string{"a", "b", "c"}}
	}})
	reg.RegisterProcessor("fake_count", fakeProcessorFactory{})

	plan := newPlan(map[string]*planner.PlanNode{
		"lines": {ArtifactID: "lines", SourceType: "fake_text", ResolvedSchema: textSchema},
		"count": {
			ArtifactID:     "count",
			ProcessType:    "fake_count",
			Inputs:         []string{"lines"},
			ResolvedSchema: indicatorSchema,
		},
	})

	exec := executor.New(reg, artifacts, state, nil)
	result, err := exec.Run(context.Background(), plan, false)
	require.NoError(t, err)
	assert.Equal(t, statestore.RunStatusSucceeded, result.OverallStatus)
	assert.Equal(t, 2, result.SucceededCount)

	msg, err := artifacts.Get(context.Background(), plan.RunID, "count")
	require.NoError(t, err)
	assert.Equal(t, 3, msg.Content.ScalarValue())
}

// --- S2: fan-in concatenate ----------------------------------------------

func TestRun_FanInConcatenate(t *testing.T) {
	reg, artifacts, state := newHarness(t)
	reg.RegisterSource("fake_a", fakeSourceFactory{factory: func() component.Source {
		return &fakeSource{lines: []string{"a1", "a2"}}
	}})
	reg.RegisterSource("fake_b", fakeSourceFactory{factory: func() component.Source {
		return &fakeSource{lines: []string{"b1"}}
	}})
	reg.RegisterProcessor("fake_count", fakeProcessorFactory{})

	plan := newPlan(map[string]*planner.PlanNode{
		"a": {ArtifactID: "a", SourceType: "fake_a", ResolvedSchema: textSchema},
		"b": {ArtifactID: "b", SourceType: "fake_b", ResolvedSchema: textSchema},
		"merged": {
			ArtifactID:     "merged",
			ProcessType:    "fake_count",
			Inputs:         []string{"a", "b"},
			Merge:          "concatenate",
			ResolvedSchema: indicatorSchema,
		},
	})

	exec := executor.New(reg, artifacts, state, nil)
	result, err := exec.Run(context.Background(), plan, false)
	require.NoError(t, err)
	assert.Equal(t, statestore.RunStatusSucceeded, result.OverallStatus)

	msg, err := artifacts.Get(context.Background(), plan.RunID, "merged")
	require.NoError(t, err)
	assert.Equal(t, 3, msg.Content.ScalarValue())
}

// --- S3: optional dependency failure cascades to SKIPPED ------------------

func TestRun_OptionalFailureCascadesSkip(t *testing.T) {
	reg, artifacts, state := newHarness(t)
	reg.RegisterSource("fake_fail", fakeSourceFactory{factory: func() component.Source {
		return &fakeSource{err: fmt.Errorf("boom")}
	}})
	reg.RegisterSource("fake_ok", fakeSourceFactory{factory: func() component.Source {
		return &fakeSource{lines: []string{"x"}}
	}})
	reg.RegisterProcessor("fake_count", fakeProcessorFactory{})

	plan := newPlan(map[string]*planner.PlanNode{
		"flaky": {ArtifactID: "flaky", SourceType: "fake_fail", Optional: true, ResolvedSchema: textSchema},
		"steady": {ArtifactID: "steady", SourceType: "fake_ok", ResolvedSchema: textSchema},
		"derived_from_flaky": {
			ArtifactID:     "derived_from_flaky",
			ProcessType:    "fake_count",
			Inputs:         []string{"flaky"},
			ResolvedSchema: indicatorSchema,
		},
		"derived_from_steady": {
			ArtifactID:     "derived_from_steady",
			ProcessType:    "fake_count",
			Inputs:         []string{"steady"},
			ResolvedSchema: indicatorSchema,
		},
	})

	exec := executor.New(reg, artifacts, state, nil)
	result, err := exec.Run(context.Background(), plan, false)
	require.NoError(t, err)
	assert.Equal(t, statestore.RunStatusSucceeded, result.OverallStatus)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Equal(t, 2, result.SucceededCount)

	snap, loadErr := state.LoadRun(context.Background(), plan.RunID)
	require.NoError(t, loadErr)
	assert.Equal(t, statestore.StatusSkipped, snap.Artifacts["derived_from_flaky"].Status)
	assert.Equal(t, statestore.StatusSucceeded, snap.Artifacts["derived_from_steady"].Status)
}

// --- non-optional failure cancels the whole run --------------------------

func TestRun_NonOptionalFailureCancelsRun(t *testing.T) {
	reg, artifacts, state := newHarness(t)
	reg.RegisterSource("fake_fail", fakeSourceFactory{factory: func() component.Source {
		return &fakeSource{err: fmt.Errorf("boom")}
	}})
	reg.RegisterSource("fake_ok", fakeSourceFactory{factory: func() component.Source {
		return &fakeSource{block: true}
	}})

	plan := newPlan(map[string]*planner.PlanNode{
		"fatal":       {ArtifactID: "fatal", SourceType: "fake_fail", ResolvedSchema: textSchema},
		"independent": {ArtifactID: "independent", SourceType: "fake_ok", ResolvedSchema: textSchema},
	})
	plan.MaxConcurrency = 4

	exec := executor.New(reg, artifacts, state, nil)
	result, err := exec.Run(context.Background(), plan, false)
	require.NoError(t, err)
	assert.Equal(t, statestore.RunStatusFailed, result.OverallStatus)
	assert.Equal(t, 1, result.FailedCount)
}

// --- S5: resume after failure skips already-succeeded artifacts ----------

func TestRun_ResumeSkipsSucceededArtifacts(t *testing.T) {
	reg, artifacts, state := newHarness(t)
	attempts := 0
	reg.RegisterSource("fake_a", fakeSourceFactory{factory: func() component.Source {
		return &fakeSource{lines: []string{"a1"}}
	}})
	reg.RegisterSource("fake_b", fakeSourceFactory{factory: func() component.Source {
		attempts++
		if attempts == 1 {
			return &fakeSource{err: fmt.Errorf("first attempt fails")}
		}
		return &fakeSource{lines: []string{"b1"}}
	}})

	runID := planner.NewRunID()
	plan := &planner.ExecutionPlan{
		RunID:       runID,
		RunbookHash: "testhash",
		Nodes: map[string]*planner.PlanNode{
			"a": {ArtifactID: "a", SourceType: "fake_a", ResolvedSchema: textSchema},
			"b": {ArtifactID: "b", SourceType: "fake_b", ResolvedSchema: textSchema},
		},
		Dependents: map[string][]string{},
	}

	exec := executor.New(reg, artifacts, state, nil)

	first, err := exec.Run(context.Background(), plan, false)
	require.NoError(t, err)
	assert.Equal(t, statestore.RunStatusFailed, first.OverallStatus)
	assert.Equal(t, 1, first.SucceededCount)
	assert.Equal(t, 1, first.FailedCount)

	second, err := exec.Run(context.Background(), plan, true)
	require.NoError(t, err)
	assert.Equal(t, statestore.RunStatusSucceeded, second.OverallStatus)
	assert.Equal(t, 1, second.SkippedCount)
	assert.Equal(t, 1, second.SucceededCount)
	assert.Equal(t, 2, attempts, "fake_b's factory runs once in the first attempt and once on resume")
}

// --- S6: timeout cancels a blocked source ---------------------------------

func TestRun_TimeoutCancelsBlockedArtifact(t *testing.T) {
	reg, artifacts, state := newHarness(t)
	reg.RegisterSource("fake_block", fakeSourceFactory{factory: func() component.Source {
		return &fakeSource{block: true}
	}})

	plan := newPlan(map[string]*planner.PlanNode{
		"stuck": {ArtifactID: "stuck", SourceType: "fake_block", ResolvedSchema: textSchema},
	})
	plan.TimeoutSeconds = 1

	exec := executor.New(reg, artifacts, state, nil)
	start := time.Now()
	result, err := exec.Run(context.Background(), plan, false)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, statestore.RunStatusCancelled, result.OverallStatus)
	assert.Less(t, elapsed, 3*time.Second, "cancellation must resolve within a bounded grace period")
}
