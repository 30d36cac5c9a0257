package filter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/livecap/livecapd/internal/config"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Filter runs finalized caption text through a user-supplied wasm module
// before it is stored or published. The module exports
//
//	alloc(len i32) -> ptr i32
//	transform(ptr i32, len i32) -> packed i64 (out_ptr<<32 | out_len)
//
// A disabled or failing filter behaves as identity; caption flow never
// depends on it.
type Filter struct {
	log      *slog.Logger
	rt       wazero.Runtime
	compiled wazero.CompiledModule
	module   api.Module
	alloc    api.Function
	fn       api.Function

	// Wasm module instances are single-threaded.
	mu sync.Mutex
}

// Open loads the filter module named in config. With filtering disabled it
// returns an identity filter.
func Open(ctx context.Context, cfg config.FilterConfig, log *slog.Logger) (*Filter, error) {
	f := &Filter{log: log.With(slog.String("component", "caption-filter"))}
	if !cfg.Enabled {
		return f, nil
	}

	wasmBytes, err := os.ReadFile(cfg.Module)
	if err != nil {
		return nil, fmt.Errorf("read filter module: %w", err)
	}

	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("compile filter module: %w", err)
	}
	module, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		compiled.Close(ctx)
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate filter module: %w", err)
	}

	alloc := module.ExportedFunction("alloc")
	fn := module.ExportedFunction("transform")
	if alloc == nil || fn == nil {
		module.Close(ctx)
		compiled.Close(ctx)
		rt.Close(ctx)
		return nil, fmt.Errorf("filter module must export alloc and transform")
	}

	f.rt = rt
	f.compiled = compiled
	f.module = module
	f.alloc = alloc
	f.fn = fn
	return f, nil
}

// Transform returns the filtered text, or the input unchanged when the
// filter is disabled or the module misbehaves.
func (f *Filter) Transform(ctx context.Context, text string) string {
	if f == nil || f.fn == nil || text == "" {
		return text
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	in := []byte(text)
	res, err := f.alloc.Call(ctx, uint64(len(in)))
	if err != nil || len(res) == 0 {
		f.log.Warn("filter alloc failed", slog.Any("error", err))
		return text
	}
	ptr := api.DecodeU32(res[0])

	mem := f.module.Memory()
	if mem == nil || !mem.Write(ptr, in) {
		f.log.Warn("filter memory write failed")
		return text
	}

	res, err = f.fn.Call(ctx, uint64(ptr), uint64(len(in)))
	if err != nil || len(res) == 0 {
		f.log.Warn("filter transform failed", slog.Any("error", err))
		return text
	}

	packed := res[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed)
	if outLen == 0 {
		return ""
	}
	out, ok := mem.Read(outPtr, outLen)
	if !ok {
		f.log.Warn("filter memory read failed")
		return text
	}
	return string(out)
}

// Close releases the wasm runtime.
func (f *Filter) Close(ctx context.Context) error {
	if f == nil || f.rt == nil {
		return nil
	}
	return f.rt.Close(ctx)
}
