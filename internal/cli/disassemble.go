package cli

import (
	"context"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/lumen/lang/compiler"
	"github.com/mna/lumen/lang/disasm"
	"github.com/mna/lumen/lang/heap"
	"github.com/mna/lumen/lang/runtime"
)

// Disassemble compiles the file at args[0] and prints its bytecode without
// running it.
func (c *Cmd) Disassemble(ctx context.Context, stdio mainer.Stdio, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return readError{err: err}
	}

	cfg, err := runtime.Load()
	if err != nil {
		return err
	}
	h := heap.New(cfg.GCInitialThreshold, cfg.GCGrowthFactor)
	fn, ok := compiler.Compile(h, string(src), stdio.Stderr)
	if !ok {
		return statusError{code: runtime.StatusCompileError.ExitCode()}
	}
	disasm.Chunk(stdio.Stdout, h, h.FunctionChunk(fn), args[0])
	return nil
}
