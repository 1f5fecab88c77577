package havoc

import (
	"log"
	"math"
)

// Resolution is one memory object an address may point into, along with the
// state in which it does.
type Resolution struct {
	State *ExecutionState
	Base  *ConstantExpr
	Array *Array
}

// ResolveExact returns every heap object that addr may point into.
//
// A concrete address resolves to its containing object within state. A
// symbolic address is tested against every object. When more than one object
// is feasible, state is forked once per object, with the child constrained
// to that object's address range. A single feasible object constrains state
// itself. An empty result means addr cannot refer to any object.
func (e *Executor) ResolveExact(state *ExecutionState, addr Expr, name string) ([]Resolution, error) {
	return e.ResolveExactBefore(state, addr, math.MaxUint64, name)
}

// ResolveExactBefore works like ResolveExact but only considers objects whose
// base address is below limit. Pass the result of ExecutionState.HeapEnd to
// exclude objects allocated after that point.
func (e *Executor) ResolveExactBefore(state *ExecutionState, addr Expr, limit uint64, name string) ([]Resolution, error) {
	if addr, ok := addr.(*ConstantExpr); ok {
		base, array := state.findAllocContainingAddr(addr)
		if array == nil || base.Value >= limit {
			log.Printf("[resolve] %s: no object at %d", name, addr.Value)
			return nil, nil
		}
		return []Resolution{{State: state, Base: base, Array: array}}, nil
	}

	type candidate struct {
		base  *ConstantExpr
		array *Array
		cond  Expr
	}

	// Find every object whose address range may contain addr.
	var candidates []candidate
	width := ExprWidth(addr)
	itr := state.heap.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		key, array := k.(uint64), v.(*Array)
		if key >= limit {
			break
		} else if array.Size == 0 {
			continue
		}

		base := NewConstantExpr(key, width)
		end := NewConstantExpr(key+uint64(array.Size), width)
		cond := NewBinaryExpr(AND, NewBinaryExpr(ULE, base, addr), NewBinaryExpr(ULT, addr, end))
		if ok, err := e.mayBeTrue(state, cond); err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		candidates = append(candidates, candidate{base: NewConstantExpr(key, e.PointerWidth()), array: array, cond: cond})
	}
	log.Printf("[resolve] %s: %d candidate(s)", name, len(candidates))

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		if c := candidates[0]; !IsConstantTrue(c.cond) {
			state.AddConstraint(c.cond)
		}
		return []Resolution{{State: state, Base: candidates[0].base, Array: candidates[0].array}}, nil
	}

	a := make([]Resolution, len(candidates))
	for i, c := range candidates {
		a[i] = Resolution{State: e.Fork(state, c.cond), Base: c.base, Array: c.array}
	}
	return a, nil
}

// mayBeTrue returns true if cond is satisfiable under the constraints of
// state. Every condition is treated as satisfiable if no solver is set.
func (e *Executor) mayBeTrue(state *ExecutionState, cond Expr) (bool, error) {
	if cond, ok := cond.(*ConstantExpr); ok {
		return cond.IsTrue(), nil
	} else if e.Solver == nil {
		return true, nil
	}

	n := len(state.constraints)
	satisfiable, _, err := e.Solver.Solve(append(state.constraints[:n:n], cond), nil)
	return satisfiable, err
}
