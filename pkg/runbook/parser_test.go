package runbook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

const validDoc = `
name: test-run
description: a test runbook
config:
  max_concurrency: 4
artifacts:
  raw_file:
    source_type: fsfile
    properties:
      path: ${RUNBOOK_TEST_PATH}
  indicators:
    inputs: [raw_file]
    process_type: patternmatch
    properties: {}
    optional: false
`

func TestParseValidRunbook(t *testing.T) {
	t.Setenv("RUNBOOK_TEST_PATH", "/data/in.txt")

	rb, err := NewParser().Parse([]byte(validDoc))
	require.NoError(t, err)
	assert.Equal(t, "test-run", rb.Name)
	assert.Equal(t, 4, rb.Config.MaxConcurrency)
	require.Contains(t, rb.Artifacts, "raw_file")
	assert.Equal(t, "/data/in.txt", rb.Artifacts["raw_file"].Properties["path"])
	assert.True(t, rb.Artifacts["raw_file"].IsSource())
	assert.True(t, rb.Artifacts["indicators"].IsDerived())
}

func TestParseDefaultsMaxConcurrency(t *testing.T) {
	t.Setenv("RUNBOOK_TEST_PATH", "/data/in.txt")
	doc := `
name: test
artifacts:
  a:
    source_type: fsfile
    properties: { path: /tmp/x }
`
	rb, err := NewParser().Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, defaultMaxConcurrency, rb.Config.MaxConcurrency)
}

func TestParseUndefinedEnvVarIsConfigError(t *testing.T) {
	os.Unsetenv("RUNBOOK_TEST_UNDEFINED")
	doc := `
name: test
artifacts:
  a:
    source_type: fsfile
    properties: { path: ${RUNBOOK_TEST_UNDEFINED} }
`
	_, err := NewParser().Parse([]byte(doc))
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindConfig))
}

func TestParseEscapedDollarBraceIsLiteral(t *testing.T) {
	doc := `
name: test
artifacts:
  a:
    source_type: fsfile
    properties: { path: "$${LITERAL}" }
`
	rb, err := NewParser().Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "${LITERAL}", rb.Artifacts["a"].Properties["path"])
}

func TestParseRejectsInvalidArtifactID(t *testing.T) {
	doc := `
name: test
artifacts:
  BadID:
    source_type: fsfile
    properties: {}
`
	_, err := NewParser().Parse([]byte(doc))
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindConfig))
}

func TestParseRejectsBothSourceAndInputs(t *testing.T) {
	doc := `
name: test
artifacts:
  a:
    source_type: fsfile
    inputs: [b]
    process_type: patternmatch
    properties: {}
  b:
    source_type: fsfile
    properties: {}
`
	_, err := NewParser().Parse([]byte(doc))
	require.Error(t, err)
}

func TestParseRejectsNeitherSourceNorInputs(t *testing.T) {
	doc := `
name: test
artifacts:
  a:
    properties: {}
`
	_, err := NewParser().Parse([]byte(doc))
	require.Error(t, err)
}

func TestParseRejectsMergeWithSingleInput(t *testing.T) {
	doc := `
name: test
artifacts:
  a:
    source_type: fsfile
    properties: {}
  b:
    inputs: [a]
    process_type: patternmatch
    merge: concatenate
    properties: {}
`
	_, err := NewParser().Parse([]byte(doc))
	require.Error(t, err)
}

func TestParseRejectsUnknownMergeValue(t *testing.T) {
	doc := `
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
    merge: union
    properties: {}
`
	_, err := NewParser().Parse([]byte(doc))
	require.Error(t, err)
}

func TestParseAcceptsValidConcatenateMerge(t *testing.T) {
	doc := `
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
`
	_, err := NewParser().Parse([]byte(doc))
	require.NoError(t, err)
}

func TestDetectIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.yaml")
	pathB := filepath.Join(dir, "b.yaml")

	docA := `
name: a
artifacts:
  child:
    include:
      path: ` + pathB + `
`
	docB := `
name: b
artifacts:
  child:
    include:
      path: ` + pathA + `
`
	require.NoError(t, os.WriteFile(pathA, []byte(docA), 0o644))
	require.NoError(t, os.WriteFile(pathB, []byte(docB), 0o644))

	_, err := NewParser().ParseFile(pathA)
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindConfig))
}
