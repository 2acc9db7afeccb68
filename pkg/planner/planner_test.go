package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waivern-compliance/waivern/pkg/artifactstore"
	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/runbook"
	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

type stubSource struct{}

func (stubSource) Extract(context.Context) (schema.Message, error) { return schema.Message{}, nil }
func (stubSource) OutputSchemas() []schema.Schema                  { return nil }
func (stubSource) Close(context.Context) error                     { return nil }

type stubSourceFactory struct{ schemas []schema.Schema }

func (f stubSourceFactory) Create(component.Properties) (component.Source, error) { return stubSource{}, nil }
func (f stubSourceFactory) OutputSchemas() []schema.Schema                        { return f.schemas }
func (f stubSourceFactory) ConfigSchema() string                                  { return "" }

type stubProcessor struct{}

func (stubProcessor) Process(context.Context, []schema.Message, schema.Schema) (schema.Message, error) {
	return schema.Message{}, nil
}
func (stubProcessor) InputRequirements() [][]component.InputRequirement { return nil }
func (stubProcessor) OutputSchemas() []schema.Schema                    { return nil }
func (stubProcessor) Close(context.Context) error                      { return nil }

type stubProcessorFactory struct {
	requirements [][]component.InputRequirement
	outputs      []schema.Schema
}

func (f stubProcessorFactory) Create(component.Properties) (component.Processor, error) {
	return stubProcessor{}, nil
}
func (f stubProcessorFactory) InputRequirements() [][]component.InputRequirement { return f.requirements }
func (f stubProcessorFactory) OutputSchemas() []schema.Schema                    { return f.outputs }
func (f stubProcessorFactory) ConfigSchema() string                             { return "" }

func mustSchema(t *testing.T, name, version string) schema.Schema {
	t.Helper()
	s, err := schema.New(name, version)
	require.NoError(t, err)
	return s
}

func newTestRegistry(t *testing.T, rawSchema, indicatorSchema schema.Schema) *registry.Registry {
	t.Helper()
	r := registry.New()
	r.RegisterSource("fsfile", stubSourceFactory{schemas: []schema.Schema{rawSchema}})
	r.RegisterProcessor("patternmatch", stubProcessorFactory{
		requirements: [][]component.InputRequirement{{{Schema: rawSchema}}},
		outputs:      []schema.Schema{indicatorSchema},
	})
	return r
}

func TestPlanSimpleSourceToProcessor(t *testing.T) {
	ctx := context.Background()
	raw := mustSchema(t, "raw_text", "1.0.0")
	indicator := mustSchema(t, "indicator", "1.0.0")
	r := newTestRegistry(t, raw, indicator)
	store := artifactstore.NewMemoryStore()
	p := New(r, store)

	rb, err := runbook.NewParser().Parse([]byte(`
name: test
artifacts:
  a:
    source_type: fsfile
    properties: {}
  b:
    inputs: [a]
    process_type: patternmatch
    properties: {}
`))
	require.NoError(t, err)

	plan, err := p.Plan(ctx, rb)
	require.NoError(t, err)
	assert.Len(t, plan.Topology, 2)
	assert.Equal(t, []string{"a"}, plan.Topology[0])
	assert.Equal(t, []string{"b"}, plan.Topology[1])
	assert.Equal(t, []string{"b"}, plan.Dependents["a"])
}

func TestPlanDetectsCycle(t *testing.T) {
	ctx := context.Background()
	raw := mustSchema(t, "raw_text", "1.0.0")
	indicator := mustSchema(t, "indicator", "1.0.0")
	r := newTestRegistry(t, raw, indicator)
	r.RegisterProcessor("patternmatch", stubProcessorFactory{
		requirements: [][]component.InputRequirement{{{Schema: indicator}}},
		outputs:      []schema.Schema{indicator},
	})
	store := artifactstore.NewMemoryStore()
	p := New(r, store)

	rb, err := runbook.NewParser().Parse([]byte(`
name: test
artifacts:
  a:
    inputs: [c]
    process_type: patternmatch
    properties: {}
  b:
    inputs: [a]
    process_type: patternmatch
    properties: {}
  c:
    inputs: [b]
    process_type: patternmatch
    properties: {}
`))
	require.NoError(t, err)

	_, err = p.Plan(ctx, rb)
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindCycle))
}

func TestPlanRejectsUnknownSourceType(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	store := artifactstore.NewMemoryStore()
	p := New(r, store)

	rb, err := runbook.NewParser().Parse([]byte(`
name: test
artifacts:
  a:
    source_type: nope
    properties: {}
`))
	require.NoError(t, err)

	_, err = p.Plan(ctx, rb)
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindUnknownComponent))
}

func TestPlanRejectsSchemaIncompatibility(t *testing.T) {
	ctx := context.Background()
	raw := mustSchema(t, "raw_text", "1.0.0")
	other := mustSchema(t, "other_kind", "1.0.0")
	r := registry.New()
	r.RegisterSource("fsfile", stubSourceFactory{schemas: []schema.Schema{raw}})
	r.RegisterProcessor("patternmatch", stubProcessorFactory{
		requirements: [][]component.InputRequirement{{{Schema: other}}},
	})
	store := artifactstore.NewMemoryStore()
	p := New(r, store)

	rb, err := runbook.NewParser().Parse([]byte(`
name: test
artifacts:
  a:
    source_type: fsfile
    properties: {}
  b:
    inputs: [a]
    process_type: patternmatch
    properties: {}
`))
	require.NoError(t, err)

	_, err = p.Plan(ctx, rb)
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindSchemaIncompatibility))
}

func TestPlanRejectsUndefinedInput(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	r.RegisterProcessor("patternmatch", stubProcessorFactory{})
	store := artifactstore.NewMemoryStore()
	p := New(r, store)

	rb, err := runbook.NewParser().Parse([]byte(`
name: test
artifacts:
  b:
    inputs: [missing]
    process_type: patternmatch
    properties: {}
`))
	require.NoError(t, err)

	_, err = p.Plan(ctx, rb)
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindConfig))
}

func TestPlanRejectsMissingReuseTarget(t *testing.T) {
	ctx := context.Background()
	raw := mustSchema(t, "raw_text", "1.0.0")
	r := registry.New()
	r.RegisterSource("fsfile", stubSourceFactory{schemas: []schema.Schema{raw}})
	store := artifactstore.NewMemoryStore()
	p := New(r, store)

	rb, err := runbook.NewParser().Parse([]byte(`
name: test
artifacts:
  a:
    source_type: fsfile
    properties: {}
    reuse:
      from_run: run-a
      artifact: a
`))
	require.NoError(t, err)

	_, err = p.Plan(ctx, rb)
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindMissingReusedArtifact))
}

func TestPlanResolvesReuseWhenPresent(t *testing.T) {
	ctx := context.Background()
	raw := mustSchema(t, "raw_text", "1.0.0")
	r := registry.New()
	r.RegisterSource("fsfile", stubSourceFactory{schemas: []schema.Schema{raw}})
	store := artifactstore.NewMemoryStore()
	require.NoError(t, store.Save(ctx, "run-a", "a", schema.Message{ID: "m1", Schema: raw, Content: schema.Scalar("x")}))
	p := New(r, store)

	rb, err := runbook.NewParser().Parse([]byte(`
name: test
artifacts:
  a:
    source_type: fsfile
    properties: {}
    reuse:
      from_run: run-a
      artifact: a
`))
	require.NoError(t, err)

	plan, err := p.Plan(ctx, rb)
	require.NoError(t, err)
	require.NotNil(t, plan.Nodes["a"].Reuse)
	assert.Equal(t, "run-a", plan.Nodes["a"].Reuse.FromRun)
}

func TestPlanConcatenateMergeRequiresCompatibleSchemas(t *testing.T) {
	ctx := context.Background()
	raw := mustSchema(t, "raw_text", "1.0.0")
	indicator := mustSchema(t, "indicator", "1.0.0")
	r := registry.New()
	r.RegisterSource("fsfile", stubSourceFactory{schemas: []schema.Schema{raw}})
	r.RegisterProcessor("patternmatch", stubProcessorFactory{
		requirements: [][]component.InputRequirement{{{Schema: raw}}},
		outputs:      []schema.Schema{indicator},
	})
	store := artifactstore.NewMemoryStore()
	p := New(r, store)

	rb, err := runbook.NewParser().Parse([]byte(`
name: test
artifacts:
  a:
    source_type: fsfile
    properties: {}
  b:
    source_type: fsfile
    properties: {}
  c:
    inputs: [a, b]
    process_type: patternmatch
    merge: concatenate
    properties: {}
`))
	require.NoError(t, err)

	plan, err := p.Plan(ctx, rb)
	require.NoError(t, err)
	assert.Equal(t, indicator, plan.Nodes["c"].ResolvedSchema)
}
