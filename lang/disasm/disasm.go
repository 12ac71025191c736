// Package disasm pretty-prints compiled chunks, for tests and the
// `disassemble` CLI debug subcommand. It is not part of the VM's core
// execution path.
package disasm

import (
	"fmt"
	"io"

	"github.com/mna/lumen/lang/compiler"
	"github.com/mna/lumen/lang/heap"
)

// Chunk writes a human-readable listing of chunk to w, labeled name.
func Chunk(w io.Writer, h *heap.Heap, chunk *heap.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(chunk.Code); {
		offset = Instruction(w, h, chunk, offset)
	}
}

// Instruction writes one disassembled instruction at offset and returns the
// offset of the next one.
func Instruction(w io.Writer, h *heap.Heap, chunk *heap.Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && chunk.Lines[offset] == chunk.Lines[offset-1] {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", chunk.Lines[offset])
	}

	op := compiler.Op(chunk.Code[offset])
	switch op {
	case compiler.OpConstant, compiler.OpGetGlobal, compiler.OpDefineGlobal,
		compiler.OpSetGlobal, compiler.OpGetProperty, compiler.OpSetProperty,
		compiler.OpGetSuper, compiler.OpClass, compiler.OpMethod:
		return constantInstruction(w, h, op, chunk, offset)
	case compiler.OpGetLocal, compiler.OpSetLocal, compiler.OpGetUpvalue,
		compiler.OpSetUpvalue, compiler.OpCall:
		return byteInstruction(w, op, chunk, offset)
	case compiler.OpInvoke, compiler.OpSuperInvoke:
		return invokeInstruction(w, h, op, chunk, offset)
	case compiler.OpJump, compiler.OpJumpIfFalse:
		return jumpInstruction(w, op, chunk, offset, 1)
	case compiler.OpLoop:
		return jumpInstruction(w, op, chunk, offset, -1)
	case compiler.OpClosure:
		return closureInstruction(w, h, chunk, offset)
	default:
		fmt.Fprintln(w, op.String())
		return offset + 1
	}
}

func simple(w io.Writer, name string, offset int) int {
	fmt.Fprintln(w, name)
	return offset + 1
}

func constantInstruction(w io.Writer, h *heap.Heap, op compiler.Op, chunk *heap.Chunk, offset int) int {
	idx := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, idx, h.Stringify(chunk.Constants[idx]))
	return offset + 2
}

func byteInstruction(w io.Writer, op compiler.Op, chunk *heap.Chunk, offset int) int {
	slot := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", op, slot)
	return offset + 2
}

func invokeInstruction(w io.Writer, h *heap.Heap, op compiler.Op, chunk *heap.Chunk, offset int) int {
	idx := chunk.Code[offset+1]
	argc := chunk.Code[offset+2]
	fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", op, argc, idx, h.Stringify(chunk.Constants[idx]))
	return offset + 3
}

func jumpInstruction(w io.Writer, op compiler.Op, chunk *heap.Chunk, offset int, sign int) int {
	jump := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
	fmt.Fprintf(w, "%-16s %4d -> %d\n", op, offset, offset+3+sign*jump)
	return offset + 3
}

func closureInstruction(w io.Writer, h *heap.Heap, chunk *heap.Chunk, offset int) int {
	idx := chunk.Code[offset+1]
	offset += 2
	fnValue := chunk.Constants[idx]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", compiler.OpClosure, idx, h.Stringify(fnValue))

	fn := fnValue.AsHandle()
	for _, up := range h.FunctionUpvalues(fn) {
		isLocal := "upvalue"
		if up.IsLocal {
			isLocal = "local"
		}
		fmt.Fprintf(w, "%04d      |                     %s %d\n", offset, isLocal, up.Index)
		offset += 2
	}
	return offset
}
