// Package patternmatch implements a Processor that scans text_line input
// messages against a set of configured regular expressions and emits an
// indicator Message describing each match.
package patternmatch

import (
	"context"
	"regexp"

	"github.com/google/uuid"

	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// TypeName is the process_type this plugin registers under.
const TypeName = "patternmatch"

var (
	textLineSchema  = schema.Schema{Name: "text_line", Version: "1.0.0"}
	indicatorSchema = schema.Schema{Name: "indicator", Version: "1.0.0"}
)

// Register adds the patternmatch processor factory to r.
func Register(r *registry.Registry) {
	r.RegisterProcessor(TypeName, Factory{})
}

// Factory builds patternmatch processors from a `patterns` property: a
// list of named regular expressions, e.g. {"patterns": {"ssn": "\\d{3}-\\d{2}-\\d{4}"}}.
type Factory struct{}

func (Factory) ConfigSchema() string { return `{patterns: {[string]: string}}` }

func (Factory) InputRequirements() [][]component.InputRequirement {
	return [][]component.InputRequirement{{{Schema: textLineSchema}}}
}

func (Factory) OutputSchemas() []schema.Schema { return []schema.Schema{indicatorSchema} }

func (Factory) Create(properties component.Properties) (component.Processor, error) {
	raw, ok := properties["patterns"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, waivernerr.New(waivernerr.KindConfig, "patternmatch requires a non-empty patterns property", nil).
			WithCode(waivernerr.CodeConfig)
	}

	compiled := make(map[string]*regexp.Regexp, len(raw))
	for name, v := range raw {
		pattern, ok := v.(string)
		if !ok {
			return nil, waivernerr.New(waivernerr.KindConfig, "patternmatch: pattern "+name+" is not a string", nil).
				WithCode(waivernerr.CodeConfig)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, waivernerr.New(waivernerr.KindConfig, "patternmatch: invalid pattern "+name, err).
				WithCode(waivernerr.CodeConfig)
		}
		compiled[name] = re
	}

	return &Processor{patterns: compiled}, nil
}

// Processor matches each input line against every configured pattern.
type Processor struct {
	patterns map[string]*regexp.Regexp
}

func (p *Processor) Process(ctx context.Context, inputs []schema.Message, outputSchema schema.Schema) (schema.Message, error) {
	var matches []schema.Content
	for _, in := range inputs {
		for _, line := range in.Content.Items() {
			if err := ctx.Err(); err != nil {
				return schema.Message{}, err
			}
			if !line.IsScalar() {
				continue
			}
			text, ok := line.ScalarValue().(string)
			if !ok {
				continue
			}
			for name, re := range p.patterns {
				if found := re.FindString(text); found != "" {
					matches = append(matches, schema.Mapping(map[string]schema.Content{
						"pattern": schema.Scalar(name),
						"line":    schema.Scalar(text),
						"match":   schema.Scalar(found),
					}))
				}
			}
		}
	}

	return schema.Message{
		ID:     uuid.New().String(),
		Schema: outputSchema,
		Content: schema.Mapping(map[string]schema.Content{
			"count":   schema.Scalar(len(matches)),
			"matches": schema.Sequence(matches...),
		}),
	}, nil
}

func (p *Processor) InputRequirements() [][]component.InputRequirement {
	return [][]component.InputRequirement{{{Schema: textLineSchema}}}
}

func (p *Processor) OutputSchemas() []schema.Schema { return []schema.Schema{indicatorSchema} }

func (p *Processor) Close(context.Context) error { return nil }
