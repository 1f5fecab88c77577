package havoc_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/havoc"
)

func TestExecutor_ResolveExact(t *testing.T) {
	t.Run("Concrete", func(t *testing.T) {
		e, _ := NewExecutor(t, ExecProgram(t), "Inputs")
		s := e.RootState()
		base, array := s.Alloc(8)

		a, err := e.ResolveExact(s, havoc.NewConstantExpr64(70), "p")
		if err != nil {
			t.Fatal(err)
		} else if len(a) != 1 {
			t.Fatalf("unexpected resolution count: %d", len(a))
		} else if a[0].State != s {
			t.Fatal("expected same state")
		} else if a[0].Base.Value != base.Value || a[0].Array != array {
			t.Fatalf("unexpected object: %s", a[0].Array)
		} else if s.Forked() || len(s.Constraints()) != 0 {
			t.Fatal("expected state to be unchanged")
		}
	})

	t.Run("ConcreteMiss", func(t *testing.T) {
		e, _ := NewExecutor(t, ExecProgram(t), "Inputs")
		s := e.RootState()
		s.Alloc(8)

		if a, err := e.ResolveExact(s, havoc.NewConstantExpr64(72), "p"); err != nil {
			t.Fatal(err)
		} else if len(a) != 0 {
			t.Fatalf("unexpected resolution count: %d", len(a))
		}
	})

	t.Run("SymbolicSingle", func(t *testing.T) {
		e, _ := NewExecutor(t, ExecProgram(t), "Inputs")
		s := e.RootState()
		_, array := s.Alloc(8)

		a, err := e.ResolveExact(s, s.NewSymbolicExpr("p", 64), "p")
		if err != nil {
			t.Fatal(err)
		} else if len(a) != 1 {
			t.Fatalf("unexpected resolution count: %d", len(a))
		} else if a[0].State != s || a[0].Array != array {
			t.Fatal("unexpected resolution")
		} else if s.Forked() {
			t.Fatal("expected no fork")
		} else if got := len(s.Constraints()); got != 2 {
			t.Fatalf("unexpected constraint count: %d", got)
		}
	})

	t.Run("SymbolicMultiple", func(t *testing.T) {
		e, _ := NewExecutor(t, ExecProgram(t), "Inputs")
		s := e.RootState()
		_, x := s.Alloc(8)
		_, y := s.Alloc(4)

		a, err := e.ResolveExact(s, s.NewSymbolicExpr("p", 64), "p")
		if err != nil {
			t.Fatal(err)
		} else if len(a) != 2 {
			t.Fatalf("unexpected resolution count: %d", len(a))
		} else if a[0].Array != x || a[1].Array != y {
			t.Fatal("unexpected objects")
		} else if got := len(s.Children()); got != 2 {
			t.Fatalf("unexpected child count: %d", got)
		}

		for i, r := range a {
			if r.State == s {
				t.Fatalf("%d. expected forked state", i)
			} else if got := len(r.State.Constraints()); got != 2 {
				t.Fatalf("%d. unexpected constraint count: %d", i, got)
			}
		}
		if got := len(s.Constraints()); got != 0 {
			t.Fatalf("unexpected parent constraint count: %d", got)
		}
	})

	// Zero-size objects cannot be pointed into.
	t.Run("Empty", func(t *testing.T) {
		e, _ := NewExecutor(t, ExecProgram(t), "Inputs")
		s := e.RootState()
		s.Alloc(0)

		if a, err := e.ResolveExact(s, s.NewSymbolicExpr("p", 64), "p"); err != nil {
			t.Fatal(err)
		} else if len(a) != 0 {
			t.Fatalf("unexpected resolution count: %d", len(a))
		}
	})

	t.Run("Before", func(t *testing.T) {
		e, _ := NewExecutor(t, ExecProgram(t), "Inputs")
		s := e.RootState()
		_, x := s.Alloc(8)
		limit := s.HeapEnd()
		y, _ := s.Alloc(16)

		a, err := e.ResolveExactBefore(s, s.NewSymbolicExpr("p", 64), limit, "p")
		if err != nil {
			t.Fatal(err)
		} else if len(a) != 1 || a[0].Array != x {
			t.Fatalf("unexpected resolutions: %d", len(a))
		} else if s.Forked() {
			t.Fatal("expected no fork")
		}

		if a, err := e.ResolveExactBefore(s, y, limit, "p"); err != nil {
			t.Fatal(err)
		} else if len(a) != 0 {
			t.Fatalf("unexpected resolution count: %d", len(a))
		}
	})

	t.Run("Infeasible", func(t *testing.T) {
		e, _ := NewExecutor(t, ExecProgram(t), "Inputs")
		e.Solver = &stubSolver{}
		s := e.RootState()
		s.Alloc(8)

		if a, err := e.ResolveExact(s, s.NewSymbolicExpr("p", 64), "p"); err != nil {
			t.Fatal(err)
		} else if len(a) != 0 {
			t.Fatalf("unexpected resolution count: %d", len(a))
		} else if got := len(s.Constraints()); got != 0 {
			t.Fatalf("unexpected constraint count: %d", got)
		}
	})

	t.Run("ErrSolver", func(t *testing.T) {
		errMarker := errors.New("marker")
		e, _ := NewExecutor(t, ExecProgram(t), "Inputs")
		e.Solver = &stubSolver{err: errMarker}
		s := e.RootState()
		s.Alloc(8)

		if _, err := e.ResolveExact(s, s.NewSymbolicExpr("p", 64), "p"); err != errMarker {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

// stubSolver returns a fixed satisfiability for every query.
type stubSolver struct {
	satisfiable bool
	err         error
}

func (s *stubSolver) Solve(constraints []havoc.Expr, arrays []*havoc.Array) (bool, [][]byte, error) {
	return s.satisfiable, nil, s.err
}
