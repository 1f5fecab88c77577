/*
Package overapprox replaces calls to configured functions with an
over-approximation of their effects.

An approximated call never executes the callee. Instead the call result is
bound to a fresh symbolic value and the memory reachable through each
writable argument is overwritten with fresh symbolic bytes. A pointer that may
refer to several objects forks the calling state once per object, and each
later argument is processed in every surviving state.
*/
package overapprox

import (
	"fmt"
	"go/types"
	"log"
	"sync"

	"github.com/benbjohnson/havoc"
	"golang.org/x/tools/go/ssa"
)

// Engine intercepts calls to functions listed in its configuration.
//
// The configuration is loaded on first use. A missing or invalid file
// leaves the engine with an empty configuration.
type Engine struct {
	once   sync.Once
	config Config
	seq    int // call sequence, shared by all names of a single call

	// Path of the YAML configuration file.
	Path string
}

// NewEngine returns a new Engine that reads its configuration from path.
func NewEngine(path string) *Engine {
	return &Engine{Path: path}
}

// NewEngineWithConfig returns an Engine with a preloaded configuration.
func NewEngineWithConfig(config Config) *Engine {
	e := &Engine{config: config}
	e.once.Do(func() {})
	return e
}

// Config returns the configuration, loading it on first use.
func (e *Engine) Config() Config {
	e.once.Do(func() {
		config, err := LoadConfig(e.Path)
		if err != nil {
			log.Printf("[overapprox] %s; no functions approximated", err)
			config = make(Config)
		}
		e.config = config
	})
	return e.config
}

// Reset discards the loaded configuration and restarts the call sequence.
// The configuration is reloaded on next use.
func (e *Engine) Reset() {
	e.once = sync.Once{}
	e.config = nil
	e.seq = 0
}

// IsApproximated returns true if fn is listed in the configuration.
func (e *Engine) IsApproximated(fn *ssa.Function) bool {
	_, ok := e.Config()[fn.String()]
	return ok
}

// Intercepts implements havoc.CallInterceptor.
func (e *Engine) Intercepts(fn *ssa.Function) bool {
	return e.IsApproximated(fn)
}

// Call implements havoc.CallInterceptor.
func (e *Engine) Call(state *havoc.ExecutionState, instr *ssa.Call, fn *ssa.Function, args []havoc.Binding) error {
	_, err := e.Apply(state, instr, fn, args)
	return err
}

// Apply approximates a call to fn in state and returns the states that
// survive. The result is bound in state before any memory is touched, so
// every returned state observes the same return value. Objects allocated to
// hold the result are never candidates for a writable argument.
//
// Writable arguments are processed in configured order. An argument that
// resolves to no object prunes the state it was resolved in.
func (e *Engine) Apply(state *havoc.ExecutionState, instr *ssa.Call, fn *ssa.Function, args []havoc.Binding) ([]*havoc.ExecutionState, error) {
	config, ok := e.Config()[fn.String()]
	if !ok {
		return nil, fmt.Errorf("overapprox: function not configured: %s", fn.String())
	}

	e.seq++
	id := e.seq
	log.Printf("[overapprox] apply: %s (#%d)", fn.String(), id)

	limit := state.HeapEnd()
	if err := e.bindReturnValue(state, instr, fn, config, id); err != nil {
		return nil, err
	}

	states := []*havoc.ExecutionState{state}
	for _, idx := range config.WritableMemoryArguments {
		if idx >= len(args) {
			log.Printf("[overapprox] %s: argument %d out of range, skipping", fn.String(), idx)
			continue
		}

		name := fmt.Sprintf("%s/arg:%d/%d", fn.String(), idx, id)
		var next []*havoc.ExecutionState
		for _, s := range states {
			other, err := e.havocArgument(s, fn, idx, args[idx], limit, name)
			if err != nil {
				return nil, err
			}
			next = append(next, other...)
		}
		states = next
	}
	return states, nil
}

// bindReturnValue binds a fresh value of the call's result type to instr.
func (e *Engine) bindReturnValue(state *havoc.ExecutionState, instr *ssa.Call, fn *ssa.Function, config FunctionConfig, id int) error {
	name := fmt.Sprintf("%s/retval/%d", fn.String(), id)

	var first havoc.Binding
	switch typ := instr.Type().(type) {
	case *types.Tuple:
		if typ.Len() == 0 {
			return nil // void
		}
		tuple := make(havoc.Tuple, typ.Len())
		for i := range tuple {
			tuple[i] = state.NewSymbolicBinding(typ.At(i).Type(), fmt.Sprintf("%s:%d", name, i))
		}
		first = tuple[0]
		state.BindLocal(instr, tuple)
	default:
		first = state.NewSymbolicBinding(typ, name)
		state.BindLocal(instr, first)
	}

	if len(config.ReturnRange) == 0 {
		return nil
	}
	ret, ok := first.(havoc.Expr)
	if !ok {
		return fmt.Errorf("overapprox: %s: return range requires an integer result", fn.String())
	}
	width := havoc.ExprWidth(ret)
	state.AddConstraint(havoc.NewBinaryExpr(havoc.SLE, havoc.NewConstantExpr(uint64(config.ReturnRange[0]), width), ret))
	state.AddConstraint(havoc.NewBinaryExpr(havoc.SLE, ret, havoc.NewConstantExpr(uint64(config.ReturnRange[1]), width)))
	return nil
}

// havocArgument replaces every object below limit that the argument may point
// into with fresh symbolic content. Returns the states in which resolution
// succeeded.
func (e *Engine) havocArgument(state *havoc.ExecutionState, fn *ssa.Function, idx int, arg havoc.Binding, limit uint64, name string) ([]*havoc.ExecutionState, error) {
	addr, err := pointerOf(state, paramType(fn, idx), arg)
	if err != nil {
		return nil, fmt.Errorf("overapprox: %s: argument %d: %w", fn.String(), idx, err)
	} else if addr == nil {
		log.Printf("[overapprox] %s: argument %d is nil, skipping", fn.String(), idx)
		return []*havoc.ExecutionState{state}, nil
	}

	resolutions, err := state.Executor().ResolveExactBefore(state, addr, limit, name)
	if err != nil {
		return nil, err
	} else if len(resolutions) == 0 {
		reason := fmt.Sprintf("%s: unresolvable pointer in argument %d", fn.String(), idx)
		log.Printf("[overapprox] %s; state pruned", reason)
		state.Terminate(havoc.ExecutionStatusPruned, reason)
		return nil, nil
	}

	states := make([]*havoc.ExecutionState, len(resolutions))
	for i, r := range resolutions {
		r.State.Havoc(r.Base, r.Array, name)
		states[i] = r.State
	}
	return states, nil
}

// pointerOf returns the address an argument refers to. Slices refer to their
// backing array. Returns nil for a nil pointer.
func pointerOf(state *havoc.ExecutionState, typ types.Type, arg havoc.Binding) (havoc.Expr, error) {
	var addr havoc.Expr
	switch arg := arg.(type) {
	case havoc.Expr:
		addr = arg
	case *havoc.Array:
		if typ == nil {
			return nil, fmt.Errorf("unknown argument type")
		} else if _, ok := typ.Underlying().(*types.Slice); !ok {
			return nil, fmt.Errorf("not a pointer: %s", typ)
		}
		e := state.Executor()
		addr = arg.Select(havoc.NewConstantExpr64(0), e.PointerWidth(), e.IsLittleEndian())
	default:
		return nil, fmt.Errorf("not a pointer: %T", arg)
	}

	if caddr, ok := addr.(*havoc.ConstantExpr); ok && caddr.Value == 0 {
		return nil, nil
	}
	return addr, nil
}

// paramType returns the type of the idx-th argument of fn, counting the
// receiver as the first argument.
func paramType(fn *ssa.Function, idx int) types.Type {
	sig := fn.Signature
	if recv := sig.Recv(); recv != nil {
		if idx == 0 {
			return recv.Type()
		}
		idx--
	}
	if idx < 0 || idx >= sig.Params().Len() {
		return nil
	}
	return sig.Params().At(idx).Type()
}
