package havoc_test

import (
	"go/types"
	"testing"

	"github.com/benbjohnson/havoc"
	"github.com/google/go-cmp/cmp"
)

// NewRootState returns the root state of a function that allocates nothing.
func NewRootState(tb testing.TB) *havoc.ExecutionState {
	tb.Helper()
	e, _ := NewExecutor(tb, ExecProgram(tb), "Inputs")
	return e.RootState()
}

func TestExecutionState_Alloc(t *testing.T) {
	s := NewRootState(t)

	for _, tt := range []struct {
		size uint
		addr uint64
	}{
		{4, 64},
		{0, 68},
		{2, 69},
		{1, 71},
	} {
		base, array := s.Alloc(tt.size)
		if diff := cmp.Diff(base, havoc.NewConstantExpr64(tt.addr)); diff != "" {
			t.Fatal(diff)
		} else if array.ID != tt.addr || array.Size != tt.size {
			t.Fatalf("unexpected array: %s", array)
		}
	}
}

func TestExecutionState_ReadBytes(t *testing.T) {
	s := NewRootState(t)
	base, array := s.Alloc(4)
	if _, err := s.WriteExpr(base, array, havoc.NewConstantExpr64(0), havoc.NewConstantExpr32(0x04030201)); err != nil {
		t.Fatal(err)
	}

	t.Run("OK", func(t *testing.T) {
		if buf, err := s.ReadBytes(base, 4); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(buf, []byte{1, 2, 3, 4}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Offset", func(t *testing.T) {
		if buf, err := s.ReadBytes(havoc.NewConstantExpr64(65), 2); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(buf, []byte{2, 3}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrOutOfBounds", func(t *testing.T) {
		if _, err := s.ReadBytes(havoc.NewConstantExpr64(66), 3); err != havoc.ErrOutOfBounds {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrObjectNotFound", func(t *testing.T) {
		if _, err := s.ReadBytes(havoc.NewConstantExpr64(1000), 1); err != havoc.ErrObjectNotFound {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrSymbolicAddr", func(t *testing.T) {
		if _, err := s.ReadBytes(s.NewSymbolicExpr("ptr", 64), 1); err != havoc.ErrSymbolicAddr {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrSymbolicByte", func(t *testing.T) {
		base, array := s.Alloc(2)
		s.HavocRange(base, array, 1, 1, "buf")
		if _, err := s.ReadBytes(base, 2); err != havoc.ErrSymbolicByte {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestExecutionState_ReadExpr(t *testing.T) {
	s := NewRootState(t)
	base, array := s.Alloc(8)
	if _, err := s.WriteExpr(base, array, havoc.NewConstantExpr64(4), havoc.NewConstantExpr32(0xAABBCCDD)); err != nil {
		t.Fatal(err)
	}

	if value, err := s.ReadExpr(havoc.NewConstantExpr64(68), 32); err != nil {
		t.Fatal(err)
	} else if diff := cmp.Diff(value, havoc.NewConstantExpr32(0xAABBCCDD)); diff != "" {
		t.Fatal(diff)
	}

	if value, err := s.ReadExpr(havoc.NewConstantExpr64(70), 8); err != nil {
		t.Fatal(err)
	} else if diff := cmp.Diff(value, havoc.NewConstantExpr8(0xBB)); diff != "" {
		t.Fatal(diff)
	}

	if _, err := s.ReadExpr(havoc.NewConstantExpr64(68), 64); err != havoc.ErrOutOfBounds {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("ErrWriteOutOfBounds", func(t *testing.T) {
		_, array, err := s.FindObject(base)
		if err != nil {
			t.Fatal(err)
		} else if _, err := s.WriteExpr(base, array, havoc.NewConstantExpr64(6), havoc.NewConstantExpr32(0)); err != havoc.ErrOutOfBounds {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestExecutionState_HavocRange(t *testing.T) {
	t.Run("Clip", func(t *testing.T) {
		s := NewRootState(t)
		base, array := s.Alloc(4)
		array, err := s.WriteExpr(base, array, havoc.NewConstantExpr64(0), havoc.NewConstantExpr32(0))
		if err != nil {
			t.Fatal(err)
		}

		other := s.HavocRange(base, array, 2, 10, "buf")
		if other.Name != "buf" {
			t.Fatalf("unexpected name: %q", other.Name)
		} else if buf, err := s.ReadBytes(base, 2); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(buf, []byte{0, 0}); diff != "" {
			t.Fatal(diff)
		}

		for _, addr := range []uint64{66, 67} {
			if _, err := s.ReadBytes(havoc.NewConstantExpr64(addr), 1); err != havoc.ErrSymbolicByte {
				t.Fatalf("unexpected error at %d: %v", addr, err)
			}
		}
	})

	t.Run("Empty", func(t *testing.T) {
		s := NewRootState(t)
		base, array := s.Alloc(4)
		if other := s.HavocRange(base, array, 9, 1, "buf"); other != array {
			t.Fatal("expected unchanged array")
		}
	})

	t.Run("Full", func(t *testing.T) {
		s := NewRootState(t)
		base, array := s.Alloc(4)
		other := s.Havoc(base, array, "obj")

		_, found, err := s.FindObject(havoc.NewConstantExpr64(66))
		if err != nil {
			t.Fatal(err)
		} else if found != other {
			t.Fatal("expected heap to hold havocked array")
		}

		expr, err := s.ReadExpr(base, 32)
		if err != nil {
			t.Fatal(err)
		}
		arrays := havoc.FindArrays(expr)
		if len(arrays) != 1 {
			t.Fatalf("unexpected array count: %d", len(arrays))
		} else if got, exp := arrays[0].Name, "obj"; got != exp {
			t.Fatalf("unexpected name: %q", got)
		} else if arrays[0].ID < 1<<62 {
			t.Fatalf("unexpected source id: %d", arrays[0].ID)
		}
	})
}

func TestExecutionState_NewSymbolicBinding(t *testing.T) {
	t.Run("Int32", func(t *testing.T) {
		s := NewRootState(t)
		expr, ok := s.NewSymbolicBinding(types.Typ[types.Int32], "ret").(havoc.Expr)
		if !ok {
			t.Fatal("expected expression")
		} else if got := havoc.ExprWidth(expr); got != 32 {
			t.Fatalf("unexpected width: %d", got)
		} else if got := arrayName(t, expr); got != "ret" {
			t.Fatalf("unexpected name: %q", got)
		}
	})

	t.Run("Bool", func(t *testing.T) {
		s := NewRootState(t)
		expr, ok := s.NewSymbolicBinding(types.Typ[types.Bool], "ok").(havoc.Expr)
		if !ok {
			t.Fatal("expected expression")
		} else if got := havoc.ExprWidth(expr); got != havoc.WidthBool {
			t.Fatalf("unexpected width: %d", got)
		}
	})

	t.Run("Struct", func(t *testing.T) {
		s := NewRootState(t)
		typ := types.NewStruct([]*types.Var{
			types.NewField(0, nil, "A", types.Typ[types.Int64], false),
			types.NewField(0, nil, "B", types.Typ[types.Uint32], false),
		}, nil)

		array, ok := s.NewSymbolicBinding(typ, "stat").(*havoc.Array)
		if !ok {
			t.Fatal("expected array")
		} else if array.Size != 16 {
			t.Fatalf("unexpected size: %d", array.Size)
		} else if array.Name != "stat" {
			t.Fatalf("unexpected name: %q", array.Name)
		} else if !array.IsSymbolic() {
			t.Fatal("expected symbolic")
		}
	})
}

func TestExecutionState_AddConstraint(t *testing.T) {
	s := NewRootState(t)
	x := s.NewSymbolicExpr("x", 8)
	s.AddConstraint(havoc.NewBinaryExpr(havoc.AND,
		havoc.NewBinaryExpr(havoc.ULT, x, havoc.NewConstantExpr8(10)),
		havoc.NewBinaryExpr(havoc.UGT, x, havoc.NewConstantExpr8(2)),
	))
	if got := len(s.Constraints()); got != 2 {
		t.Fatalf("unexpected constraint count: %d", got)
	}

	child := s.Fork(havoc.NewBinaryExpr(havoc.EQ, x, havoc.NewConstantExpr8(5)))
	if got := len(child.Constraints()); got != 3 {
		t.Fatalf("unexpected child constraint count: %d", got)
	} else if got := len(s.Constraints()); got != 2 {
		t.Fatalf("unexpected parent constraint count: %d", got)
	} else if !s.Forked() {
		t.Fatal("expected parent to be forked")
	}
}
