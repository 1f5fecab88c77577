package havoc_test

import (
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/benbjohnson/havoc"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

const execPath = "github.com/benbjohnson/havoc/testdata/exec"

func TestExecutor_SymbolicInput(t *testing.T) {
	prog := ExecProgram(t)
	e, obs := NewExecutor(t, prog, "Inputs")

	states := MustRun(t, e)
	if got, exp := len(states), 1; got != exp {
		t.Fatalf("unexpected state count: %d", got)
	} else if got, exp := states[0].Status(), havoc.ExecutionStatusFinished; got != exp {
		t.Fatalf("unexpected status: %s", got)
	} else if got, exp := len(obs.Calls), 4; got != exp {
		t.Fatalf("unexpected call count: %d", got)
	}

	t.Run("Int8", func(t *testing.T) {
		expr := obs.Calls[0].Value.(havoc.Expr)
		if got, exp := havoc.ExprWidth(expr), uint(8); got != exp {
			t.Fatalf("unexpected width: %d", got)
		} else if got, exp := arrayName(t, expr), "havoc.Int8@exec.go:22"; got != exp {
			t.Fatalf("unexpected name: %s", got)
		}
	})

	t.Run("Uint64", func(t *testing.T) {
		expr := obs.Calls[1].Value.(havoc.Expr)
		if got, exp := havoc.ExprWidth(expr), uint(64); got != exp {
			t.Fatalf("unexpected width: %d", got)
		} else if got, exp := arrayName(t, expr), "havoc.Uint64@exec.go:23"; got != exp {
			t.Fatalf("unexpected name: %s", got)
		}
	})

	t.Run("String", func(t *testing.T) {
		array := obs.Calls[2].Value.(*havoc.Array)
		if got, exp := array.Name, "havoc.String@exec.go:24"; got != exp {
			t.Fatalf("unexpected name: %s", got)
		} else if got, exp := array.Size, uint(4); got != exp {
			t.Fatalf("unexpected size: %d", got)
		} else if !array.IsSymbolic() {
			t.Fatal("expected symbolic array")
		}
	})

	t.Run("ByteSlice", func(t *testing.T) {
		call := obs.Calls[3]
		hdr := call.Value.(*havoc.Array)

		data, ok := hdr.Select(havoc.NewConstantExpr64(0), 64, true).(*havoc.ConstantExpr)
		if !ok {
			t.Fatalf("expected constant data pointer: %s", spew.Sdump(hdr))
		}
		_, array, err := call.State.FindObject(data)
		if err != nil {
			t.Fatal(err)
		} else if got, exp := array.Name, "havoc.ByteSlice@exec.go:25"; got != exp {
			t.Fatalf("unexpected name: %s", got)
		} else if got, exp := array.Size, uint(3); got != exp {
			t.Fatalf("unexpected size: %d", got)
		}

		for _, offset := range []uint64{8, 16} { // len, cap
			if got := hdr.Select(havoc.NewConstantExpr64(offset), 64, true); havoc.CompareExpr(got, havoc.NewConstantExpr64(3)) != 0 {
				t.Fatalf("unexpected header word at %d: %s", offset, got)
			}
		}
	})
}

func TestExecutor_Branch(t *testing.T) {
	prog := ExecProgram(t)
	e, obs := NewExecutor(t, prog, "Branch")

	states := MustRun(t, e)
	if got, exp := len(states), 2; got != exp {
		t.Fatalf("unexpected state count: %d", got)
	} else if got, exp := len(e.RootState().Children()), 2; got != exp {
		t.Fatalf("unexpected child count: %d", got)
	} else if got, exp := len(obs.Calls), 2; got != exp {
		t.Fatalf("unexpected call count: %d", got)
	}

	for _, call := range obs.Calls {
		state := call.State
		if got, exp := state.Status(), havoc.ExecutionStatusFinished; got != exp {
			t.Fatalf("unexpected status: %s", got)
		} else if got, exp := len(state.Constraints()), 1; got != exp {
			t.Fatalf("unexpected constraint count: %d", got)
		}

		// x=11 satisfies exactly the path that observed 1.
		cond := state.Constraints()[0]
		v, err := havoc.NewExprEvaluator(havoc.FindArrays(cond), [][]byte{{11}}).Evaluate(cond)
		if err != nil {
			t.Fatal(err)
		} else if got, exp := v.Value, call.Value.(*havoc.ConstantExpr).Value; got != exp {
			t.Fatalf("unexpected evaluation: %d != %d", got, exp)
		}
	}

	values := []uint64{obs.Calls[0].Value.(*havoc.ConstantExpr).Value, obs.Calls[1].Value.(*havoc.ConstantExpr).Value}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	if diff := cmp.Diff(values, []uint64{0, 1}); diff != "" {
		t.Fatal(diff)
	}
}

func TestExecutor_SetSearcher(t *testing.T) {
	prog := ExecProgram(t)

	observe := func(e *havoc.Executor, obs *Observer) []uint64 {
		MustRun(t, e)
		var a []uint64
		for _, call := range obs.Calls {
			a = append(a, call.Value.(*havoc.ConstantExpr).Value)
		}
		return a
	}

	dfs := observe(NewExecutor(t, prog, "Branch"))

	e, obs := NewExecutor(t, prog, "Branch")
	e.SetSearcher(havoc.NewBFSSearcher())
	bfs := observe(e, obs)

	if len(dfs) != 2 || len(bfs) != 2 {
		t.Fatalf("unexpected observations: %v, %v", dfs, bfs)
	} else if dfs[0] != bfs[1] || dfs[1] != bfs[0] {
		t.Fatalf("expected reversed order: %v, %v", dfs, bfs)
	}
}

func TestExecutor_Assert(t *testing.T) {
	prog := ExecProgram(t)
	e, _ := NewExecutor(t, prog, "Assert")

	states := MustRun(t, e)
	if got, exp := len(states), 1; got != exp {
		t.Fatalf("unexpected state count: %d", got)
	}
	constraints := states[0].Constraints()
	if got, exp := len(constraints), 1; got != exp {
		t.Fatalf("unexpected constraint count: %d", got)
	}

	// Signed comparison against -4.
	for _, tt := range []struct {
		x   byte
		exp uint64
	}{{0xF0, 1}, {0xFB, 1}, {0xFC, 0}, {0x00, 0}, {0x7F, 0}} {
		if v, err := havoc.NewExprEvaluator(havoc.FindArrays(constraints[0]), [][]byte{{tt.x}}).Evaluate(constraints[0]); err != nil {
			t.Fatal(err)
		} else if v.Value != tt.exp {
			t.Fatalf("unexpected evaluation for %#x: %d", tt.x, v.Value)
		}
	}
}

func TestExecutor_AndNot(t *testing.T) {
	prog := ExecProgram(t)
	e, obs := NewExecutor(t, prog, "AndNot")
	MustRun(t, e)

	expr := obs.Calls[0].Value.(havoc.Expr)
	if v, err := havoc.NewExprEvaluator(havoc.FindArrays(expr), [][]byte{{0x3C}}).Evaluate(expr); err != nil {
		t.Fatal(err)
	} else if got, exp := v.Value, uint64(0xC0); got != exp {
		t.Fatalf("unexpected value: %#x", got)
	}
}

func TestExecutor_StringCompare(t *testing.T) {
	prog := ExecProgram(t)
	e, obs := NewExecutor(t, prog, "StringLess")
	MustRun(t, e)

	if got, exp := len(obs.Calls), 3; got != exp {
		t.Fatalf("unexpected call count: %d", got)
	}

	t.Run("Empty", func(t *testing.T) {
		if cond := obs.Calls[0].Value.(havoc.Expr); !havoc.IsConstantTrue(cond) {
			t.Fatalf("unexpected condition: %s", cond)
		}
	})

	for _, tt := range []struct {
		name   string
		call   int
		values [][]byte
		exp    uint64
	}{
		{"LEQ/Equal", 1, [][]byte{[]byte("ab"), []byte("ab")}, 1},
		{"LEQ/Greater", 1, [][]byte{[]byte("ac"), []byte("ab")}, 0},
		{"LEQ/Less", 1, [][]byte{[]byte("ab"), []byte("ac")}, 1},
		{"GTR/Prefix", 2, [][]byte{[]byte("aa"), []byte("a")}, 1},
		{"GTR/Less", 2, [][]byte{[]byte("aa"), []byte("b")}, 0},
		{"GTR/Greater", 2, [][]byte{[]byte("ba"), []byte("a")}, 1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cond := obs.Calls[tt.call].Value.(havoc.Expr)
			if v, err := havoc.NewExprEvaluator(havoc.FindArrays(cond), tt.values).Evaluate(cond); err != nil {
				t.Fatal(err)
			} else if v.Value != tt.exp {
				t.Fatalf("unexpected value: %d", v.Value)
			}
		})
	}
}

func TestExecutor_Call(t *testing.T) {
	prog := ExecProgram(t)

	t.Run("Executed", func(t *testing.T) {
		e, obs := NewExecutor(t, prog, "Call")
		if states := MustRun(t, e); len(states) != 1 {
			t.Fatalf("unexpected state count: %d", len(states))
		} else if got, exp := len(obs.Calls), 2; got != exp {
			t.Fatalf("unexpected call count: %d", got)
		}

		if got := obs.Calls[0].Value.(havoc.Expr); havoc.CompareExpr(got, havoc.NewConstantExpr64(0)) != 0 {
			t.Fatalf("unexpected result: %s", got)
		} else if got := obs.Calls[1].Value.(havoc.Expr); havoc.CompareExpr(got, havoc.NewConstantExpr8(1)) != 0 {
			t.Fatalf("unexpected byte: %s", got)
		}
	})

	t.Run("Intercepted", func(t *testing.T) {
		e, obs := NewExecutor(t, prog, "Call")
		interceptor := &fillInterceptor{}
		e.Interceptors = append(e.Interceptors, interceptor)

		if states := MustRun(t, e); len(states) != 1 {
			t.Fatalf("unexpected state count: %d", len(states))
		} else if got, exp := interceptor.n, 1; got != exp {
			t.Fatalf("unexpected interception count: %d", got)
		}

		if got := obs.Calls[0].Value.(havoc.Expr); havoc.CompareExpr(got, havoc.NewConstantExpr64(7)) != 0 {
			t.Fatalf("unexpected result: %s", got)
		} else if got, exp := arrayName(t, obs.Calls[1].Value.(havoc.Expr)), "test/fill"; got != exp {
			t.Fatalf("unexpected byte source: %s", got)
		}
	})
}

func TestExecutor_InvalidOSArch(t *testing.T) {
	prog := ExecProgram(t)
	for _, tt := range []struct{ os, arch string }{{"linux", "pdp11"}, {"nacl", "amd64"}} {
		e, _ := NewExecutor(t, prog, "Inputs")
		e.OS, e.Arch = tt.os, tt.arch
		if _, err := e.ExecuteNextState(); err == nil || err.Error() != "invalid os/arch combination" {
			t.Fatalf("unexpected error for %s/%s: %v", tt.os, tt.arch, err)
		}
	}
}

// fillInterceptor replaces exec.Fill with a havoc of its argument.
type fillInterceptor struct {
	n int
}

func (i *fillInterceptor) Intercepts(fn *ssa.Function) bool {
	return fn.Name() == "Fill"
}

func (i *fillInterceptor) Call(state *havoc.ExecutionState, instr *ssa.Call, fn *ssa.Function, args []havoc.Binding) error {
	i.n++
	base, array, err := state.FindObject(args[0].(*havoc.ConstantExpr))
	if err != nil {
		return err
	}
	state.Havoc(base, array, "test/fill")
	state.BindLocal(instr, havoc.NewConstantExpr64(7))
	return nil
}

// Observer records the argument of each call to an exec.Observe function.
type Observer struct {
	Calls []ObservedCall
}

// ObservedCall is a single recorded call.
type ObservedCall struct {
	State *havoc.ExecutionState
	Name  string
	Value havoc.Binding
}

// Register installs the observer handlers on e.
func (o *Observer) Register(e *havoc.Executor) {
	for _, name := range []string{"ObserveInt8", "ObserveUint8", "ObserveUint64", "ObserveBool", "ObserveString", "ObserveBytes"} {
		name := name
		e.Register(execPath, name, func(state *havoc.ExecutionState, instr *ssa.Call) error {
			_, args := state.ExtractCall(instr)
			o.Calls = append(o.Calls, ObservedCall{State: state, Name: name, Value: args[0]})
			return nil
		})
	}
}

// NewExecutor returns a linux/amd64 executor for the named testdata function
// with an observer attached. No solver is set so every branch is feasible.
func NewExecutor(tb testing.TB, prog *ssa.Program, name string) (*havoc.Executor, *Observer) {
	tb.Helper()
	e := havoc.NewExecutor(MustFindFunction(tb, prog, name))
	e.OS, e.Arch = "linux", "amd64"

	var obs Observer
	obs.Register(e)
	return e, &obs
}

// MustRun executes every state of e and returns the terminated states.
func MustRun(tb testing.TB, e *havoc.Executor) []*havoc.ExecutionState {
	tb.Helper()
	var states []*havoc.ExecutionState
	for {
		state, err := e.ExecuteNextState()
		if err == havoc.ErrNoStateAvailable {
			return states
		} else if err != nil {
			tb.Fatal(err)
		} else if state.Terminated() {
			states = append(states, state)
		}
	}
}

var execProgram struct {
	once sync.Once
	prog *ssa.Program
}

// ExecProgram returns the testdata/exec program, built on first use.
func ExecProgram(tb testing.TB) *ssa.Program {
	tb.Helper()
	execProgram.once.Do(func() {
		execProgram.prog = MustBuildProgram(tb, "./testdata/exec")
	})
	if execProgram.prog == nil {
		tb.Fatal("program unavailable")
	}
	return execProgram.prog
}

// MustBuildProgram builds an SSA program for linux/amd64 at the given path. Fatal on error.
func MustBuildProgram(tb testing.TB, path string) *ssa.Program {
	tb.Helper()

	// Load the initial set of packages.
	initial, err := packages.Load(&packages.Config{
		Mode: packages.LoadAllSyntax,
		Env:  append(os.Environ(), "GOOS=linux", "GOARCH=amd64"),
	}, path)
	if err != nil {
		tb.Fatal(err)
	} else if packages.PrintErrors(initial) > 0 {
		tb.Fatal("packages contain errors")
	}

	// Build program in SSA form.
	prog, pkgs := ssautil.AllPackages(initial, ssa.BuilderMode(0))
	for i, pkg := range pkgs {
		if pkg == nil {
			tb.Fatalf("cannot build SSA for package %s", initial[i])
		}
		pkg.SetDebugMode(true)
	}
	prog.Build()

	// Ensure program depends on runtime package.
	if prog.ImportedPackage("runtime") == nil {
		tb.Fatal("program does not depend on runtime")
	}
	return prog
}

// MustFindFunction returns a function from any package in the program with the given name.
func MustFindFunction(tb testing.TB, prog *ssa.Program, name string) *ssa.Function {
	tb.Helper()

	pkg := prog.ImportedPackage(execPath)
	if pkg == nil {
		tb.Fatalf("package not found: %s", execPath)
	}
	if fn := pkg.Func(name); fn != nil {
		return fn
	}
	tb.Fatalf("function %q not found", name)
	return nil
}

// arrayName returns the name of the only symbolic array read by expr.
func arrayName(tb testing.TB, expr havoc.Expr) string {
	tb.Helper()
	arrays := havoc.FindArrays(expr)
	if len(arrays) != 1 {
		tb.Fatalf("expected one array: %s", spew.Sdump(arrays))
	}
	return arrays[0].Name
}
