package fsfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

func writeTemp(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "in.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFactoryRequiresPath(t *testing.T) {
	_, err := Factory{}.Create(component.Properties{})
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindConfig))
}

func TestExtractReadsLines(t *testing.T) {
	path := writeTemp(t, "alpha", "beta", "gamma")

	src, err := Factory{}.Create(component.Properties{"path": path})
	require.NoError(t, err)
	defer src.Close(context.Background())

	msg, err := src.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, textLineSchema, msg.Schema)

	items := msg.Content.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "alpha", items[0].ScalarValue())
	assert.Equal(t, "gamma", items[2].ScalarValue())
}

func TestExtractMissingFile(t *testing.T) {
	src, err := Factory{}.Create(component.Properties{"path": "/nonexistent/path/x"})
	require.NoError(t, err)

	_, err = src.Extract(context.Background())
	require.Error(t, err)
	assert.True(t, waivernerr.Is(err, waivernerr.KindSource))
}

func TestRegister(t *testing.T) {
	r := registry.New()
	registry.Discover(r, Register)
	assert.Contains(t, r.ListSources(), TypeName)
}
