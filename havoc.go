package havoc

import (
	"errors"
	"fmt"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")
)

var (
	ErrObjectNotFound = errors.New("havoc: memory object not found")
	ErrOutOfBounds    = errors.New("havoc: access out of bounds")
	ErrSymbolicAddr   = errors.New("havoc: symbolic address")
	ErrSymbolicByte   = errors.New("havoc: symbolic byte")
)

// symbolicIDBase is the first array ID handed out for fresh symbolic sources.
// Heap objects are keyed by address and never reach this range.
const symbolicIDBase = 1 << 62

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
