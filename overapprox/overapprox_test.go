package overapprox_test

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/benbjohnson/havoc"
	"github.com/benbjohnson/havoc/overapprox"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

const (
	testdataPath = "github.com/benbjohnson/havoc/overapprox/testdata/approx"
	configPath   = "testdata/over-approximation.yaml"
)

func TestLoadConfig(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		config, err := overapprox.LoadConfig(configPath)
		if err != nil {
			t.Fatal(err)
		} else if got, exp := len(config), 5; got != exp {
			t.Fatalf("unexpected function count: %d", got)
		}

		if diff := cmp.Diff(config[testdataPath+".Copy"], overapprox.FunctionConfig{
			WritableMemoryArguments: []int{1, 0},
		}); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(config[testdataPath+".Read"], overapprox.FunctionConfig{
			WritableMemoryArguments: []int{0},
			ReturnRange:             []int64{0, 4},
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrNotFound", func(t *testing.T) {
		if _, err := overapprox.LoadConfig("testdata/no-such-file.yaml"); err == nil || !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrNegativeIndex", func(t *testing.T) {
		if _, err := overapprox.LoadConfig("testdata/invalid.yaml"); err == nil || !strings.Contains(err.Error(), "negative argument index: -1") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestParseConfig(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		if config, err := overapprox.ParseConfig(nil); err != nil {
			t.Fatal(err)
		} else if config == nil || len(config) != 0 {
			t.Fatalf("unexpected config: %#v", config)
		}
	})

	t.Run("ErrSyntax", func(t *testing.T) {
		if _, err := overapprox.ParseConfig([]byte("foo: [")); err == nil || !strings.HasPrefix(err.Error(), "overapprox: failed to parse") {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrInvertedRange", func(t *testing.T) {
		_, err := overapprox.ParseConfig([]byte("f:\n  return_range: [4, 0]\n"))
		if err == nil || err.Error() != "overapprox: f: inverted return range: [4, 0]" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrRangeLength", func(t *testing.T) {
		_, err := overapprox.ParseConfig([]byte("f:\n  return_range: [4]\n"))
		if err == nil || err.Error() != "overapprox: f: return range requires two bounds, got 1" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Names", func(t *testing.T) {
		config, err := overapprox.ParseConfig([]byte("b: {}\na: {}\nc:\n  writable_memory_arguments: [2]\n"))
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(config.Names(), []string{"a", "b", "c"}); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestEngine_IsApproximated(t *testing.T) {
	prog := MustBuildProgram(t, "./testdata/approx")
	fill, unlisted := MustFindFunction(t, prog, "Fill"), MustFindFunction(t, prog, "Unlisted")

	t.Run("OK", func(t *testing.T) {
		e := overapprox.NewEngine(configPath)
		if !e.IsApproximated(fill) {
			t.Fatal("expected approximation")
		} else if e.IsApproximated(unlisted) {
			t.Fatal("unexpected approximation")
		} else if !e.Intercepts(fill) {
			t.Fatal("expected interception")
		}
	})

	// Load failures degrade to an empty configuration.
	t.Run("MissingFile", func(t *testing.T) {
		e := overapprox.NewEngine("testdata/no-such-file.yaml")
		if e.IsApproximated(fill) {
			t.Fatal("unexpected approximation")
		} else if got := len(e.Config()); got != 0 {
			t.Fatalf("unexpected function count: %d", got)
		}
	})

	t.Run("InvalidFile", func(t *testing.T) {
		e := overapprox.NewEngine("testdata/invalid.yaml")
		if e.IsApproximated(fill) {
			t.Fatal("unexpected approximation")
		}
	})

	t.Run("LoadedOnce", func(t *testing.T) {
		e := overapprox.NewEngine(configPath)
		if !e.IsApproximated(fill) {
			t.Fatal("expected approximation")
		}

		e.Path = "testdata/no-such-file.yaml"
		if !e.IsApproximated(fill) {
			t.Fatal("expected cached configuration")
		}

		e.Reset()
		if e.IsApproximated(fill) {
			t.Fatal("expected reloaded configuration")
		}
	})

	t.Run("PreloadedConfig", func(t *testing.T) {
		e := overapprox.NewEngineWithConfig(overapprox.Config{fill.String(): {}})
		if !e.IsApproximated(fill) {
			t.Fatal("expected approximation")
		} else if e.IsApproximated(unlisted) {
			t.Fatal("unexpected approximation")
		}
	})
}

func TestEngine_Apply(t *testing.T) {
	prog := MustBuildProgram(t, "./testdata/approx")

	// A symbolic pointer that may refer to either of two objects yields one
	// successor per object, each with only that object havocked.
	t.Run("TwoObjects", func(t *testing.T) {
		state, call, fn := NewCall(t, prog, "CallFill")
		baseA, arrayA := state.Alloc(4)
		baseB, arrayB := state.Alloc(4)
		ptr := state.NewSymbolicExpr("ptr", 64)

		states, err := overapprox.NewEngine(configPath).Apply(state, call, fn, []havoc.Binding{ptr})
		if err != nil {
			t.Fatal(err)
		} else if got, exp := len(states), 2; got != exp {
			t.Fatalf("unexpected state count: %d", got)
		} else if children := state.Children(); len(children) != 2 || children[0] != states[0] || children[1] != states[1] {
			t.Fatal("expected successors to be children of the calling state")
		}

		ret := state.Eval(call)
		if ret == nil {
			t.Fatal("expected return value")
		} else if got, exp := arrayName(t, ret.(havoc.Expr)), fn.String()+"/retval/1"; got != exp {
			t.Fatalf("unexpected name: %s", got)
		}

		name := fn.String() + "/arg:0/1"
		for i, tt := range []struct {
			base, other   *havoc.ConstantExpr
			otherArray    *havoc.Array
			havockedArray *havoc.Array
		}{
			{base: baseA, other: baseB, otherArray: arrayB, havockedArray: arrayA},
			{base: baseB, other: baseA, otherArray: arrayA, havockedArray: arrayB},
		} {
			s := states[i]
			if s.Terminated() {
				t.Fatalf("unexpected termination: %s", s.Reason())
			} else if s.Eval(call) != ret {
				t.Fatalf("state %d: unexpected return value: %s", i, spew.Sdump(s.Eval(call)))
			} else if got, exp := len(s.Constraints()), 2; got != exp {
				t.Fatalf("state %d: unexpected constraint count: %d", i, got)
			}

			_, array, err := s.FindObject(tt.base)
			if err != nil {
				t.Fatal(err)
			} else if array == tt.havockedArray {
				t.Fatalf("state %d: expected havocked object", i)
			} else if got := array.Name; got != name {
				t.Fatalf("state %d: unexpected name: %s", i, got)
			} else if _, err := s.ReadBytes(tt.base, 4); err != havoc.ErrSymbolicByte {
				t.Fatalf("state %d: unexpected error: %v", i, err)
			}

			value, err := s.ReadExpr(tt.base, 32)
			if err != nil {
				t.Fatal(err)
			} else if arrays := havoc.FindArrays(value); len(arrays) != 1 || arrays[0].Name != name || arrays[0].Size != 4 {
				t.Fatalf("state %d: unexpected source arrays: %s", i, spew.Sdump(arrays))
			}

			if _, array, err := s.FindObject(tt.other); err != nil {
				t.Fatal(err)
			} else if array != tt.otherArray {
				t.Fatalf("state %d: unexpected change to other object", i)
			}
		}
	})

	t.Run("ConcretePointer", func(t *testing.T) {
		state, call, fn := NewCall(t, prog, "CallFill")
		base := MustAllocBytes(t, state, []byte{1, 2, 3, 4})

		states, err := overapprox.NewEngine(configPath).Apply(state, call, fn, []havoc.Binding{base})
		if err != nil {
			t.Fatal(err)
		} else if len(states) != 1 || states[0] != state {
			t.Fatalf("unexpected states: %d", len(states))
		} else if got := len(state.Children()); got != 0 {
			t.Fatalf("unexpected child count: %d", got)
		} else if _, err := state.ReadBytes(base, 4); err != havoc.ErrSymbolicByte {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Unresolvable", func(t *testing.T) {
		state, call, fn := NewCall(t, prog, "CallFill")
		state.Alloc(4)

		states, err := overapprox.NewEngine(configPath).Apply(state, call, fn, []havoc.Binding{havoc.NewConstantExpr64(1)})
		if err != nil {
			t.Fatal(err)
		} else if len(states) != 0 {
			t.Fatalf("unexpected state count: %d", len(states))
		} else if got, exp := state.Status(), havoc.ExecutionStatusPruned; got != exp {
			t.Fatalf("unexpected status: %s", got)
		} else if got, exp := state.Reason(), fn.String()+": unresolvable pointer in argument 0"; got != exp {
			t.Fatalf("unexpected reason: %s", got)
		} else if state.Eval(call) == nil {
			t.Fatal("expected return value bound before resolution")
		}
	})

	t.Run("NilPointer", func(t *testing.T) {
		state, call, fn := NewCall(t, prog, "CallFill")
		states, err := overapprox.NewEngine(configPath).Apply(state, call, fn, []havoc.Binding{havoc.NewConstantExpr64(0)})
		if err != nil {
			t.Fatal(err)
		} else if len(states) != 1 || states[0] != state {
			t.Fatalf("unexpected states: %d", len(states))
		} else if state.Terminated() {
			t.Fatalf("unexpected termination: %s", state.Reason())
		}
	})

	// Arguments are processed in configured order. The second argument is
	// havocked first, so every successor of the first argument inherits it.
	t.Run("ArgumentOrder", func(t *testing.T) {
		state, call, fn := NewCall(t, prog, "CallCopy")
		state.Alloc(4)
		state.Alloc(4)
		src := MustAllocBytes(t, state, []byte{1, 2, 3, 4, 5, 6, 7, 8})
		dst := state.NewSymbolicExpr("dst", 64)

		states, err := overapprox.NewEngine(configPath).Apply(state, call, fn, []havoc.Binding{dst, src})
		if err != nil {
			t.Fatal(err)
		} else if got, exp := len(states), 3; got != exp {
			t.Fatalf("unexpected state count: %d", got)
		}

		var names []string
		for _, s := range states {
			_, array, err := s.FindObject(src)
			if err != nil {
				t.Fatal(err)
			}
			names = append(names, strings.TrimPrefix(array.Name, fn.String()))
		}
		if diff := cmp.Diff(names, []string{"/arg:1/1", "/arg:1/1", "/arg:0/1"}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("PrunedStatesNotCarried", func(t *testing.T) {
		state, call, fn := NewCall(t, prog, "CallCopy")
		dst := MustAllocBytes(t, state, []byte{1, 2, 3, 4})

		states, err := overapprox.NewEngine(configPath).Apply(state, call, fn, []havoc.Binding{dst, havoc.NewConstantExpr64(1)})
		if err != nil {
			t.Fatal(err)
		} else if len(states) != 0 {
			t.Fatalf("unexpected state count: %d", len(states))
		} else if got, exp := state.Status(), havoc.ExecutionStatusPruned; got != exp {
			t.Fatalf("unexpected status: %s", got)
		} else if buf, err := state.ReadBytes(dst, 4); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(buf, []byte{1, 2, 3, 4}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Slice", func(t *testing.T) {
		state, call, fn := NewCall(t, prog, "CallRead")
		data := MustAllocBytes(t, state, []byte{1, 2, 3, 4})
		hdr := MustSliceHeader(t, state, data, 4)

		states, err := overapprox.NewEngine(configPath).Apply(state, call, fn, []havoc.Binding{hdr})
		if err != nil {
			t.Fatal(err)
		} else if len(states) != 1 || states[0] != state {
			t.Fatalf("unexpected states: %d", len(states))
		} else if _, err := state.ReadBytes(data, 4); err != havoc.ErrSymbolicByte {
			t.Fatalf("unexpected error: %v", err)
		}

		ret, ok := state.Eval(call).(havoc.Tuple)
		if !ok || len(ret) != 2 {
			t.Fatalf("unexpected return value: %s", spew.Sdump(state.Eval(call)))
		} else if got, exp := havoc.ExprWidth(ret[0].(havoc.Expr)), uint(64); got != exp {
			t.Fatalf("unexpected width: %d", got)
		} else if got, exp := havoc.ExprWidth(ret[1].(havoc.Expr)), uint(havoc.WidthBool); got != exp {
			t.Fatalf("unexpected width: %d", got)
		} else if got, exp := arrayName(t, ret[0].(havoc.Expr)), fn.String()+"/retval/1:0"; got != exp {
			t.Fatalf("unexpected name: %s", got)
		}

		// Return range constraints.
		if got, exp := len(state.Constraints()), 2; got != exp {
			t.Fatalf("unexpected constraint count: %d", got)
		}
	})

	// The object holding an aggregate result does not exist at call time so
	// a writable argument cannot refer to it.
	t.Run("AggregateResult", func(t *testing.T) {
		state, call, fn := NewCall(t, prog, "CallGrab")
		base, array := state.Alloc(4)
		ptr := state.NewSymbolicExpr("ptr", 64)

		states, err := overapprox.NewEngine(configPath).Apply(state, call, fn, []havoc.Binding{ptr})
		if err != nil {
			t.Fatal(err)
		} else if len(states) != 1 || states[0] != state {
			t.Fatalf("unexpected states: %d", len(states))
		} else if got := len(state.Children()); got != 0 {
			t.Fatalf("unexpected child count: %d", got)
		} else if got, exp := len(state.Constraints()), 2; got != exp {
			t.Fatalf("unexpected constraint count: %d", got)
		}

		ret, ok := state.Eval(call).(*havoc.Array)
		if !ok {
			t.Fatalf("unexpected return value: %s", spew.Sdump(state.Eval(call)))
		} else if got, exp := ret.Size, uint(16); got != exp {
			t.Fatalf("unexpected size: %d", got)
		} else if got, exp := ret.Name, fn.String()+"/retval/1"; got != exp {
			t.Fatalf("unexpected name: %s", got)
		}

		if _, other, err := state.FindObject(base); err != nil {
			t.Fatal(err)
		} else if other == array || other.Name != fn.String()+"/arg:0/1" {
			t.Fatalf("unexpected object: %s", spew.Sdump(other))
		}
	})

	t.Run("Void", func(t *testing.T) {
		state, call, fn := NewCall(t, prog, "CallNop")
		base := MustAllocBytes(t, state, []byte{1, 2, 3, 4})

		// Out of range index 5 is skipped.
		states, err := overapprox.NewEngine(configPath).Apply(state, call, fn, []havoc.Binding{base})
		if err != nil {
			t.Fatal(err)
		} else if len(states) != 1 {
			t.Fatalf("unexpected state count: %d", len(states))
		} else if state.Eval(call) != nil {
			t.Fatalf("unexpected return value: %s", spew.Sdump(state.Eval(call)))
		}
	})

	t.Run("SequentialNames", func(t *testing.T) {
		e := overapprox.NewEngine(configPath)
		for i, exp := range []string{"/retval/1", "/retval/2"} {
			state, call, fn := NewCall(t, prog, "CallFill")
			if _, err := e.Apply(state, call, fn, []havoc.Binding{havoc.NewConstantExpr64(0)}); err != nil {
				t.Fatal(err)
			} else if got := arrayName(t, state.Eval(call).(havoc.Expr)); got != fn.String()+exp {
				t.Fatalf("call %d: unexpected name: %s", i, got)
			}
		}
	})

	t.Run("ErrNotConfigured", func(t *testing.T) {
		state, call, _ := NewCall(t, prog, "CallFill")
		fn := MustFindFunction(t, prog, "Unlisted")
		if _, err := overapprox.NewEngine(configPath).Apply(state, call, fn, nil); err == nil || err.Error() != "overapprox: function not configured: "+fn.String() {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

// MustBuildProgram builds an SSA program for linux/amd64 at the given path. Fatal on error.
func MustBuildProgram(tb testing.TB, path string) *ssa.Program {
	tb.Helper()

	initial, err := packages.Load(&packages.Config{
		Mode: packages.LoadAllSyntax,
		Env:  append(os.Environ(), "GOOS=linux", "GOARCH=amd64"),
	}, path)
	if err != nil {
		tb.Fatal(err)
	} else if packages.PrintErrors(initial) > 0 {
		tb.Fatal("packages contain errors")
	}

	prog, _ := ssautil.AllPackages(initial, ssa.BuilderMode(0))
	prog.Build()
	return prog
}

// MustFindFunction returns a testdata function by name. Fatal if not found.
func MustFindFunction(tb testing.TB, prog *ssa.Program, name string) *ssa.Function {
	tb.Helper()
	pkg := prog.ImportedPackage(testdataPath)
	if pkg == nil {
		tb.Fatalf("package not found: %s", testdataPath)
	}
	fn := pkg.Func(name)
	if fn == nil {
		tb.Fatalf("function not found: %s", name)
	}
	return fn
}

// NewCall returns the root state of the named function, its first call
// site, and the callee of that call.
func NewCall(tb testing.TB, prog *ssa.Program, name string) (*havoc.ExecutionState, *ssa.Call, *ssa.Function) {
	tb.Helper()

	fn := MustFindFunction(tb, prog, name)
	e := havoc.NewExecutor(fn)
	e.OS, e.Arch = "linux", "amd64"

	for _, blk := range fn.Blocks {
		for _, instr := range blk.Instrs {
			if call, ok := instr.(*ssa.Call); ok {
				return e.RootState(), call, call.Call.StaticCallee()
			}
		}
	}
	tb.Fatalf("call not found: %s", name)
	return nil, nil, nil
}

// MustAllocBytes allocates an object holding data. Returns its address.
func MustAllocBytes(tb testing.TB, state *havoc.ExecutionState, data []byte) *havoc.ConstantExpr {
	tb.Helper()
	base, array := state.Alloc(uint(len(data)))
	for i, b := range data {
		var err error
		if array, err = state.WriteExpr(base, array, havoc.NewConstantExpr64(uint64(i)), havoc.NewConstantExpr8(uint64(b))); err != nil {
			tb.Fatal(err)
		}
	}
	return base
}

// MustSliceHeader returns a slice header referring to n bytes at data.
func MustSliceHeader(tb testing.TB, state *havoc.ExecutionState, data *havoc.ConstantExpr, n uint64) *havoc.Array {
	tb.Helper()
	base, hdr := state.Alloc(24)
	for i, v := range []uint64{data.Value, n, n} {
		var err error
		if hdr, err = state.WriteExpr(base, hdr, havoc.NewConstantExpr64(uint64(i*8)), havoc.NewConstantExpr64(v)); err != nil {
			tb.Fatal(err)
		}
	}
	return hdr
}

// arrayName returns the name of the single symbolic array read by expr.
func arrayName(tb testing.TB, expr havoc.Expr) string {
	tb.Helper()
	arrays := havoc.FindArrays(expr)
	if len(arrays) != 1 {
		tb.Fatalf("expected one array: %s", spew.Sdump(arrays))
	}
	return arrays[0].Name
}
