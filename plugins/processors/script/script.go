// Package script implements a Processor that runs a user-supplied
// Starlark transform over input Messages. The Starlark evaluator itself -
// the sandboxed thread, the timeout-bounded goroutine/channel execution,
// and the Go<->Starlark value converters - is adapted directly from the
// teacher's pkg/config.StarlarkEvaluator; only the Processor wrapper
// around it (turning schema.Message in, schema.Message out) is new.
package script

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// TypeName is the process_type this plugin registers under.
const TypeName = "script"

var (
	textLineSchema     = schema.Schema{Name: "text_line", Version: "1.0.0"}
	scriptResultSchema = schema.Schema{Name: "script_result", Version: "1.0.0"}

	defaultTimeout = 30 * time.Second
)

// Register adds the script processor factory to r.
func Register(r *registry.Registry) {
	r.RegisterProcessor(TypeName, Factory{})
}

// Factory builds script processors from a `script` property holding
// Starlark source, plus an optional `timeout_seconds`.
type Factory struct{}

func (Factory) ConfigSchema() string { return `{script: string, timeout_seconds?: number}` }

func (Factory) InputRequirements() [][]component.InputRequirement {
	return [][]component.InputRequirement{{{Schema: textLineSchema}}}
}

func (Factory) OutputSchemas() []schema.Schema { return []schema.Schema{scriptResultSchema} }

func (Factory) Create(properties component.Properties) (component.Processor, error) {
	src, ok := properties["script"].(string)
	if !ok || src == "" {
		return nil, waivernerr.New(waivernerr.KindConfig, "script requires a non-empty script property", nil).
			WithCode(waivernerr.CodeConfig)
	}

	timeout := defaultTimeout
	if secs, ok := properties["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	return &Processor{evaluator: newEvaluator(timeout), script: src}, nil
}

// Processor runs Script against its input messages on every Process call.
type Processor struct {
	evaluator *evaluator
	script    string
}

func (p *Processor) Process(ctx context.Context, inputs []schema.Message, outputSchema schema.Schema) (schema.Message, error) {
	lines := make([]any, 0)
	for _, in := range inputs {
		for _, item := range in.Content.Items() {
			lines = append(lines, contentToAny(item))
		}
	}

	result, err := p.evaluator.Evaluate(ctx, p.script, map[string]any{"lines": lines})
	if err != nil {
		return schema.Message{}, waivernerr.New(waivernerr.KindProcessor, "script: evaluation failed", err).
			WithCode(waivernerr.CodeProcessor)
	}

	fields := make(map[string]schema.Content, len(result.Output))
	for k, v := range result.Output {
		fields[k] = anyToContent(v)
	}

	return schema.Message{
		ID:      uuid.New().String(),
		Schema:  outputSchema,
		Content: schema.Mapping(fields),
	}, nil
}

func (p *Processor) InputRequirements() [][]component.InputRequirement {
	return [][]component.InputRequirement{{{Schema: textLineSchema}}}
}

func (p *Processor) OutputSchemas() []schema.Schema { return []schema.Schema{scriptResultSchema} }

func (p *Processor) Close(context.Context) error { return nil }

// contentToAny converts a schema.Content into the plain Go value the
// Starlark evaluator's input converter expects.
func contentToAny(c schema.Content) any {
	switch {
	case c.IsScalar():
		return c.ScalarValue()
	case c.IsSequence():
		items := c.Items()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = contentToAny(item)
		}
		return out
	case c.IsMapping():
		fields := c.Fields()
		out := make(map[string]any, len(fields))
		for k, v := range fields {
			out[k] = contentToAny(v)
		}
		return out
	default:
		return nil
	}
}

// anyToContent is the inverse of contentToAny, used to fold a Starlark
// evaluation's Go-typed output back into a Message body.
func anyToContent(v any) schema.Content {
	switch val := v.(type) {
	case []any:
		items := make([]schema.Content, len(val))
		for i, item := range val {
			items[i] = anyToContent(item)
		}
		return schema.Sequence(items...)
	case map[string]any:
		fields := make(map[string]schema.Content, len(val))
		for k, item := range val {
			fields[k] = anyToContent(item)
		}
		return schema.Mapping(fields)
	default:
		return schema.Scalar(val)
	}
}

// evaluator executes Starlark scripts with a bounded timeout.
type evaluator struct {
	timeout time.Duration
}

func newEvaluator(timeout time.Duration) *evaluator {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &evaluator{timeout: timeout}
}

// evalResult carries back only the fields the script processor needs from
// a Starlark evaluation.
type evalResult struct {
	Output map[string]any
}

func (e *evaluator) Evaluate(ctx context.Context, src string, input map[string]any) (*evalResult, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resultCh := make(chan *evalResult, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := e.evaluateSync(src, input)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("starlark execution timeout after %v", e.timeout)
	case err := <-errCh:
		return nil, err
	case result := <-resultCh:
		return result, nil
	}
}

func (e *evaluator) evaluateSync(src string, input map[string]any) (*evalResult, error) {
	thread := &starlark.Thread{
		Name: "waivern",
		Print: func(_ *starlark.Thread, msg string) {
		},
	}

	predeclared := starlark.StringDict{
		"struct":    starlarkstruct.Default,
		"range":     starlark.NewBuiltin("range", builtinRange),
		"enumerate": starlark.NewBuiltin("enumerate", builtinEnumerate),
		"zip":       starlark.NewBuiltin("zip", builtinZip),
	}

	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, "transform.star", src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]any)
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}

	return &evalResult{Output: output}, nil
}

func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func builtinRange(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop, step int64 = 0, 0, 1

	switch len(args) {
	case 1:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "stop", &stop); err != nil {
			return nil, err
		}
	case 2:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop); err != nil {
			return nil, err
		}
	case 3:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop, "step", &step); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("range takes 1 to 3 arguments, got %d", len(args))
	}

	if step == 0 {
		return nil, fmt.Errorf("range step cannot be zero")
	}

	var list []starlark.Value
	if step > 0 {
		for i := start; i < stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	} else {
		for i := start; i > stop; i += step {
			list = append(list, starlark.MakeInt64(i))
		}
	}

	return starlark.NewList(list), nil
}

func builtinEnumerate(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start int64 = 0

	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var list []starlark.Value
	var x starlark.Value
	i := start
	for iter.Next(&x) {
		list = append(list, starlark.Tuple{starlark.MakeInt64(i), x})
		i++
	}

	return starlark.NewList(list), nil
}

func builtinZip(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return starlark.NewList(nil), nil
	}

	iters := make([]starlark.Iterator, len(args))
	for i, arg := range args {
		iterable, ok := arg.(starlark.Iterable)
		if !ok {
			return nil, fmt.Errorf("zip argument %d is not iterable", i)
		}
		iters[i] = iterable.Iterate()
		defer iters[i].Done()
	}

	var list []starlark.Value
	for {
		tuple := make(starlark.Tuple, len(iters))
		for i, iter := range iters {
			if !iter.Next(&tuple[i]) {
				return starlark.NewList(list), nil
			}
		}
		list = append(list, tuple)
	}
}
