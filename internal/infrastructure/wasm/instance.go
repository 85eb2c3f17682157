package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/reglet-dev/exthost/internal/domain/values"
)

// instance is one loaded extension. wazero modules are not safe for
// concurrent calls, so every call into the guest holds mu.
type instance struct {
	ext    values.ExtensionID
	module api.Module

	mu sync.Mutex

	inboxMu sync.Mutex
	// inbox holds completions waiting to be delivered on the next tick.
	inbox []completion
}

// call invokes an exported function that takes one packed buffer and may
// return one. A zero result means null.
func (in *instance) call(ctx context.Context, name string, arg []byte, wantResult bool) ([]byte, error) {
	fn := in.module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("extension %s does not export %s()", in.ext, name)
	}

	packed, err := in.write(ctx, arg)
	if err != nil {
		return nil, err
	}

	results, err := fn.Call(ctx, packed)
	if err != nil {
		return nil, fmt.Errorf("%s() failed: %w", name, err)
	}
	if !wantResult {
		return nil, nil
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%s() returned no results", name)
	}

	ptr, size := unpackPtrLen(results[0])
	if ptr == 0 || size == 0 {
		return nil, nil
	}
	return in.read(ctx, ptr, size)
}

// write copies data into guest memory obtained from allocate.
func (in *instance) write(ctx context.Context, data []byte) (uint64, error) {
	return writeGuest(ctx, in.module, data)
}

// read copies a guest buffer out and hands it back to deallocate.
func (in *instance) read(ctx context.Context, ptr, size uint32) ([]byte, error) {
	view, ok := in.module.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("out of bounds read at %d (%d bytes)", ptr, size)
	}
	data := make([]byte, size)
	copy(data, view)

	if dealloc := in.module.ExportedFunction(exportDeallocate); dealloc != nil {
		_, _ = dealloc.Call(ctx, uint64(ptr), uint64(size))
	}
	return data, nil
}

func writeGuest(ctx context.Context, mod api.Module, data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	alloc := mod.ExportedFunction(exportAllocate)
	if alloc == nil {
		return 0, fmt.Errorf("module %s does not export %s()", mod.Name(), exportAllocate)
	}
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%s() failed: %w", exportAllocate, err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("%s() returned no results", exportAllocate)
	}

	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are always 32-bit
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("out of bounds write at %d (%d bytes)", ptr, len(data))
	}
	return packPtrLen(ptr, uint32(len(data))), nil //nolint:gosec // G115: bounded by guest memory
}
