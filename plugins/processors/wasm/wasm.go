// Package wasm implements a Processor that loads a WASM guest module with
// wazero and invokes its exported "transform" function on every Process
// call. The malloc/free-backed calling convention - pack a pointer and
// length into linear memory, call the guest function, unpack a
// (ptr<<32|len) result - keeps the host side to the one function this
// domain needs instead of a full provider lifecycle.
package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/waivern-compliance/waivern/pkg/component"
	"github.com/waivern-compliance/waivern/pkg/registry"
	"github.com/waivern-compliance/waivern/pkg/schema"
	"github.com/waivern-compliance/waivern/pkg/waivernerr"
)

// TypeName is the process_type this plugin registers under.
const TypeName = "wasm"

var (
	textLineSchema   = schema.Schema{Name: "text_line", Version: "1.0.0"}
	wasmResultSchema = schema.Schema{Name: "wasm_result", Version: "1.0.0"}

	defaultTimeout          = 30 * time.Second
	defaultMemoryLimitPages = uint32(256) // 16MB
)

// Register adds the wasm processor factory to r.
func Register(r *registry.Registry) {
	r.RegisterProcessor(TypeName, Factory{})
}

// Factory builds wasm processors from a `module_path` property pointing
// at a compiled WASM guest, plus optional `timeout_seconds` and
// `memory_limit_pages`.
type Factory struct{}

func (Factory) ConfigSchema() string {
	return `{module_path: string, timeout_seconds?: number, memory_limit_pages?: number}`
}

func (Factory) InputRequirements() [][]component.InputRequirement {
	return [][]component.InputRequirement{{{Schema: textLineSchema}}}
}

func (Factory) OutputSchemas() []schema.Schema { return []schema.Schema{wasmResultSchema} }

func (Factory) Create(properties component.Properties) (component.Processor, error) {
	path, ok := properties["module_path"].(string)
	if !ok || path == "" {
		return nil, waivernerr.New(waivernerr.KindConfig, "wasm requires a non-empty module_path property", nil).
			WithCode(waivernerr.CodeConfig)
	}

	moduleBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, waivernerr.New(waivernerr.KindConfig, "wasm: cannot read module "+path, err).
			WithCode(waivernerr.CodeConfig)
	}

	timeout := defaultTimeout
	if secs, ok := properties["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	memPages := defaultMemoryLimitPages
	if pages, ok := properties["memory_limit_pages"].(float64); ok && pages > 0 {
		memPages = uint32(pages)
	}

	ctx := context.Background()
	proc, err := newProcessor(ctx, moduleBytes, timeout, memPages)
	if err != nil {
		return nil, waivernerr.New(waivernerr.KindConfig, "wasm: failed to instantiate module "+path, err).
			WithCode(waivernerr.CodeConfig)
	}
	return proc, nil
}

// Processor runs a compiled WASM guest's exported transform function
// against its input messages.
type Processor struct {
	runtime   wazero.Runtime
	module    api.Module
	malloc    api.Function
	free      api.Function
	transform api.Function
	timeout   time.Duration
}

func newProcessor(ctx context.Context, moduleBytes []byte, timeout time.Duration, memPages uint32) (*Processor, error) {
	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(memPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	module, err := runtime.Instantiate(ctx, moduleBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	malloc := module.ExportedFunction("malloc")
	if malloc == nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("WASM module does not export malloc")
	}
	free := module.ExportedFunction("free")
	if free == nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("WASM module does not export free")
	}
	transform := module.ExportedFunction("transform")
	if transform == nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("WASM module does not export transform")
	}

	return &Processor{
		runtime:   runtime,
		module:    module,
		malloc:    malloc,
		free:      free,
		transform: transform,
		timeout:   timeout,
	}, nil
}

func (p *Processor) Process(ctx context.Context, inputs []schema.Message, outputSchema schema.Schema) (schema.Message, error) {
	lines := make([]any, 0)
	for _, in := range inputs {
		for _, item := range in.Content.Items() {
			lines = append(lines, contentToAny(item))
		}
	}

	inputJSON, err := json.Marshal(map[string]any{"lines": lines})
	if err != nil {
		return schema.Message{}, waivernerr.New(waivernerr.KindInternal, "wasm: failed to marshal input", err).
			WithCode(waivernerr.CodeInternal)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	outputJSON, err := p.call(callCtx, inputJSON)
	if err != nil {
		return schema.Message{}, waivernerr.New(waivernerr.KindProcessor, "wasm: transform call failed", err).
			WithCode(waivernerr.CodeProcessor)
	}

	var output map[string]any
	if err := json.Unmarshal(outputJSON, &output); err != nil {
		return schema.Message{}, waivernerr.New(waivernerr.KindProcessor, "wasm: transform returned invalid JSON", err).
			WithCode(waivernerr.CodeProcessor)
	}

	fields := make(map[string]schema.Content, len(output))
	for k, v := range output {
		fields[k] = anyToContent(v)
	}

	return schema.Message{
		ID:      uuid.New().String(),
		Schema:  outputSchema,
		Content: schema.Mapping(fields),
	}, nil
}

// call marshals input into WASM linear memory, invokes transform, and
// unmarshals its (ptr<<32|len)-packed result.
func (p *Processor) call(ctx context.Context, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := p.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate WASM memory: %w", err)
		}
		defer p.deallocate(ctx, ptr)

		inputPtr = ptr
		inputLen = uint32(len(input))
		if !p.module.Memory().Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	results, err := p.transform.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("WASM transform call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM transform returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return []byte("{}"), nil
	}

	output, ok := p.module.Memory().Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}
	defer p.deallocate(ctx, outputPtr)

	out := make([]byte, len(output))
	copy(out, output)
	return out, nil
}

func (p *Processor) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := p.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 || results[0] == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return uint32(results[0]), nil
}

func (p *Processor) deallocate(ctx context.Context, ptr uint32) error {
	_, err := p.free.Call(ctx, uint64(ptr))
	return err
}

func (p *Processor) InputRequirements() [][]component.InputRequirement {
	return [][]component.InputRequirement{{{Schema: textLineSchema}}}
}

func (p *Processor) OutputSchemas() []schema.Schema { return []schema.Schema{wasmResultSchema} }

func (p *Processor) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

// contentToAny converts a schema.Content into a JSON-marshalable Go value.
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

// anyToContent folds a JSON-decoded Go value back into a Message body.
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
