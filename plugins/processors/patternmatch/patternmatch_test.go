package patternmatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

func TestFactoryRequiresPatterns(t *testing.T) {
	_, err := Factory{}.Create(component.Properties{})
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindConfig))
}

func TestFactoryRejectsBadRegex(t *testing.T) {
	_, err := Factory{}.Create(component.Properties{
		"patterns": map[string]any{"bad": "("},
	})
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindConfig))
}

func TestProcessFindsMatches(t *testing.T) {
	proc, err := Factory{}.Create(component.Properties{
		"patterns": map[string]any{"ssn": `\d{3}-\d{2}-\d{4}`},
	})
	require.NoError(t, err)

	input := schema.Message{
		ID:     "in",
		Schema: textLineSchema,
		Content: schema.Sequence(
			schema.Scalar("no match here"),
			schema.Scalar("ssn is 123-45-6789 end"),
		),
	}

	out, err := proc.Process(context.Background(), []schema.Message{input}, indicatorSchema)
	require.NoError(t, err)
	assert.Equal(t, indicatorSchema, out.Schema)

	fields := out.Content.Fields()
	require.NotNil(t, fields)
	assert.Equal(t, 1, fields["count"].ScalarValue())

	matches := fields["matches"].Items()
	require.Len(t, matches, 1)
	m := matches[0].Fields()
	assert.Equal(t, "123-45-6789", m["match"].ScalarValue())
}

func TestProcessNoMatches(t *testing.T) {
	proc, err := Factory{}.Create(component.Properties{
		"patterns": map[string]any{"ssn": `\d{3}-\d{2}-\d{4}`},
	})
	require.NoError(t, err)

	input := schema.Message{
		ID:      "in",
		Schema:  textLineSchema,
		Content: schema.Sequence(schema.Scalar("nothing to see")),
	}

	out, err := proc.Process(context.Background(), []schema.Message{input}, indicatorSchema)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Content.Fields()["count"].ScalarValue())
}

func TestRegister(t *testing.T) {
	r := registry.New()
	registry.Discover(r, Register)
	assert.Contains(t, r.ListProcessors(), TypeName)
}
