package havoc

import (
	"fmt"
	"path/filepath"

	"golang.org/x/tools/go/ssa"
)

// pkgPath is the import path that test programs use to request symbolic input.
const pkgPath = "github.com/benbjohnson/havoc"

// symbolicInputs lists the integer input functions served by execSymbolicInput.
var symbolicInputs = []string{
	"Byte",
	"Int", "Int8", "Int16", "Int32", "Int64",
	"Uint", "Uint8", "Uint16", "Uint32", "Uint64",
}

// Assert adds a constraint to the current execution state.
func Assert(cond bool) {}

// Byte returns a symbolic byte.
func Byte() byte { return 0 }

// Int returns a symbolic signed integer with the target's integer width.
func Int() int { return 0 }

// Int8 returns a symbolic 8-bit signed integer.
func Int8() int8 { return 0 }

// Int16 returns a symbolic 16-bit signed integer.
func Int16() int16 { return 0 }

// Int32 returns a symbolic 32-bit signed integer.
func Int32() int32 { return 0 }

// Int64 returns a symbolic 64-bit signed integer.
func Int64() int64 { return 0 }

func Uint() uint     { return 0 }
func Uint8() uint8   { return 0 }
func Uint16() uint16 { return 0 }
func Uint32() uint32 { return 0 }
func Uint64() uint64 { return 0 }

// String returns a symbolic string that is n bytes long.
func String(n int) string { return "" }

// ByteSlice returns a symbolic byte slice that is n bytes long.
func ByteSlice(n int) []byte { return nil }

// symbolicName returns the name of an input array: the callee followed by
// the position of the call, e.g. "havoc.Int@main_test.go:12".
func symbolicName(state *ExecutionState, instr *ssa.Call) string {
	name := "havoc." + instr.Call.StaticCallee().Name()
	if pos := state.executor.prog.Fset.Position(instr.Pos()); pos.IsValid() {
		name += fmt.Sprintf("@%s:%d", filepath.Base(pos.Filename), pos.Line)
	}
	return name
}

func execAssert(state *ExecutionState, instr *ssa.Call) error {
	_, args := state.ExtractCall(instr)

	cond, ok := args[0].(Expr)
	if !ok {
		return fmt.Errorf("havoc.Assert(): unable to assert non-expression: %T", args[0])
	}
	state.AddConstraint(cond)
	return nil
}

// execSymbolicInput binds a fresh integer of the call's result width.
func execSymbolicInput(state *ExecutionState, instr *ssa.Call) error {
	width := state.executor.Sizeof(instr.Type())
	state.BindLocal(instr, state.NewSymbolicExpr(symbolicName(state, instr), width))
	return nil
}

// symbolicSize returns the constant size argument of String() & ByteSlice().
func symbolicSize(state *ExecutionState, instr *ssa.Call) (uint64, error) {
	_, args := state.ExtractCall(instr)
	n, ok := args[0].(*ConstantExpr)
	if !ok {
		return 0, fmt.Errorf("havoc.%s(): only constant size allowed", instr.Call.StaticCallee().Name())
	}
	return n.Value, nil
}

func execString(state *ExecutionState, instr *ssa.Call) error {
	n, err := symbolicSize(state, instr)
	if err != nil {
		return err
	}

	base, array := state.Alloc(uint(n))
	state.BindLocal(instr, state.Havoc(base, array, symbolicName(state, instr)))
	return nil
}

func execByteSlice(state *ExecutionState, instr *ssa.Call) error {
	n, err := symbolicSize(state, instr)
	if err != nil {
		return err
	}

	// Allocate & havoc the backing bytes.
	base, array := state.Alloc(uint(n))
	state.Havoc(base, array, symbolicName(state, instr))

	// Allocate slice header.
	pointerWidth := state.executor.PointerWidth()
	length := NewConstantExpr(n, pointerWidth)
	_, hdr := state.Alloc((pointerWidth / 8) * 3)
	hdr = state.storeIntAt(hdr, 0, base)   // data
	hdr = state.storeIntAt(hdr, 1, length) // len
	hdr = state.storeIntAt(hdr, 2, length) // cap
	state.heap = state.heap.Set(hdr.ID, hdr)

	state.BindLocal(instr, hdr)
	return nil
}
