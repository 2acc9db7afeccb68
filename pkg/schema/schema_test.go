package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCompatible(t *testing.T) {
	a, err := New("standard_input", "1.0.0")
	require.NoError(t, err)
	b, err := New("standard_input", "1.2.0")
	require.NoError(t, err)
	c, err := New("standard_input", "2.0.0")
	require.NoError(t, err)
	d, err := New("other", "1.0.0")
	require.NoError(t, err)

	assert.True(t, a.Compatible(b))
	assert.False(t, a.Compatible(c))
	assert.False(t, a.Compatible(d))
}

func TestNewRejectsNonSemver(t *testing.T) {
	_, err := New("indicator", "1.0")
	assert.Error(t, err)
}

func TestPickDeterministicHighestMinorPatch(t *testing.T) {
	v100, _ := New("indicator", "1.0.0")
	v110, _ := New("indicator", "1.1.0")
	v111, _ := New("indicator", "1.1.1")
	want, _ := New("indicator", "1.0.0")

	got, ok := PickDeterministic([]Schema{v100, v110, v111}, want)
	require.True(t, ok)
	assert.Equal(t, v111, got)
}

func TestSmallestNameHighestVersion(t *testing.T) {
	a100, _ := New("alpha", "1.0.0")
	a200, _ := New("alpha", "2.0.0")
	b100, _ := New("beta", "9.0.0")

	got, ok := SmallestNameHighestVersion([]Schema{b100, a100, a200})
	require.True(t, ok)
	assert.Equal(t, a200, got)
}

func TestContentConcat(t *testing.T) {
	first := Sequence(Scalar("a"), Scalar("b"))
	second := Sequence(Scalar("c"))

	merged, err := Concat(first, second)
	require.NoError(t, err)
	require.Len(t, merged.Items(), 3)
	assert.Equal(t, "a", merged.Items()[0].ScalarValue())
	assert.Equal(t, "c", merged.Items()[2].ScalarValue())
}

func TestContentConcatRejectsNonSequence(t *testing.T) {
	_, err := Concat(Scalar("a"), Sequence(Scalar("b")))
	assert.Error(t, err)
}

func TestContentJSONRoundTrip(t *testing.T) {
	original := Mapping(map[string]Content{
		"data": Sequence(Scalar("x"), Scalar(float64(1))),
	})

	raw, err := original.MarshalJSON()
	require.NoError(t, err)

	var decoded Content
	require.NoError(t, decoded.UnmarshalJSON(raw))
	assert.True(t, original.Equal(decoded))
}

func TestMessageCanonicalIsOrderIndependent(t *testing.T) {
	sc, _ := New("indicator", "1.0.0")
	m1 := Message{ID: "a", Schema: sc, Content: Mapping(map[string]Content{
		"x": Scalar(1.0), "y": Scalar(2.0),
	})}
	m2 := Message{ID: "a", Schema: sc, Content: Mapping(map[string]Content{
		"y": Scalar(2.0), "x": Scalar(1.0),
	})}

	c1, err := m1.Canonical()
	require.NoError(t, err)
	c2, err := m2.Canonical()
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
}
