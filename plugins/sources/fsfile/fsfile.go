// Package fsfile implements a Source that reads a local text file line by
// line and emits it as a text_line sequence. It is the simplest possible
// source in the plugin set.
package fsfile

import (
	"bufio"
	"context"
	"os"

	"github.com/google/uuid"

	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// TypeName is the source_type this plugin registers under.
const TypeName = "fsfile"

var textLineSchema = schema.Schema{Name: "text_line", Version: "1.0.0"}

// Register adds the fsfile source factory to r. Call via registry.Discover.
func Register(r *registry.Registry) {
	r.RegisterSource(TypeName, Factory{})
}

// Factory builds fsfile sources from a `path` property.
type Factory struct{}

func (Factory) ConfigSchema() string { return `{path: string}` }

func (Factory) OutputSchemas() []schema.Schema { return []schema.Schema{textLineSchema} }

func (Factory) Create(properties component.Properties) (component.Source, error) {
	path, ok := properties["path"].(string)
	if !ok || path == "" {
		return nil, waivernerr.New(waivernerr.KindConfig, "fsfile requires a non-empty path property", nil).
			WithCode(waivernerr.CodeConfig)
	}
	return &Source{path: path}, nil
}

// Source reads Path and emits its lines as a text_line Message.
type Source struct {
	path string
}

func (s *Source) Extract(ctx context.Context) (schema.Message, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return schema.Message{}, waivernerr.New(waivernerr.KindSource, "fsfile: cannot open "+s.path, err).
			WithCode(waivernerr.CodeSource)
	}
	defer f.Close()

	var items []schema.Content
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return schema.Message{}, err
		}
		items = append(items, schema.Scalar(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return schema.Message{}, waivernerr.New(waivernerr.KindSource, "fsfile: error reading "+s.path, err).
			WithCode(waivernerr.CodeSource)
	}

	return schema.Message{
		ID:      uuid.New().String(),
		Schema:  textLineSchema,
		Content: schema.Sequence(items...),
	}, nil
}

func (s *Source) OutputSchemas() []schema.Schema { return []schema.Schema{textLineSchema} }

func (s *Source) Close(context.Context) error { return nil }
