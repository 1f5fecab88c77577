// Package summary computes a declarative description of a function's effect
// on its return value and on memory by visiting its instructions once, in
// block order. Branches are not followed, so the result holds for every path
// through the function at the cost of precision.
package summary

import (
	"bytes"
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"log"
	"math"
	"sort"

	"github.com/benbjohnson/havoc"
	"github.com/benbjohnson/immutable"
	"golang.org/x/tools/go/ssa"
)

// Summary represents the abstract effect of one function activation.
type Summary struct {
	fn    *ssa.Function
	sizes types.Sizes
	seq   uint64 // placeholder array id

	arguments      []havoc.Expr
	returnValues   []havoc.Expr
	hasReturnValue bool

	// Memory stores keyed by evaluated address.
	stackMemory    *immutable.SortedMap
	modifiedMemory *immutable.SortedMap

	// Placeholders memoized by SSA value identity.
	globals map[ssa.Value]havoc.Expr
	values  map[ssa.Value]havoc.Expr

	warned map[string]struct{} // diagnostics already logged
}

// New returns an empty summary using the given type layout for widths.
func New(sizes types.Sizes) *Summary {
	return &Summary{sizes: sizes}
}

// Function returns the summarized function.
func (s *Summary) Function() *ssa.Function { return s.fn }

// Arguments returns one placeholder per formal parameter.
func (s *Summary) Arguments() []havoc.Expr { return s.arguments }

// HasReturnValue returns true if a return value was recorded.
func (s *Summary) HasReturnValue() bool { return s.hasReturnValue }

// ReturnValues returns the recorded value of each result.
func (s *Summary) ReturnValues() []havoc.Expr { return s.returnValues }

// ReturnValue returns the recorded results as a single expression with the
// first result in the most significant bits. Returns nil if there is no
// return value.
func (s *Summary) ReturnValue() havoc.Expr {
	if !s.hasReturnValue {
		return nil
	}
	result := s.returnValues[0]
	for _, v := range s.returnValues[1:] {
		result = havoc.NewConcatExpr(result, v)
	}
	return result
}

// Entry is a recorded store.
type Entry struct {
	Addr  havoc.Expr
	Value havoc.Expr
}

// StackMemory returns stores to local allocations, ordered by address.
func (s *Summary) StackMemory() []Entry { return entries(s.stackMemory) }

// ModifiedMemory returns stores to any other address, ordered by address.
func (s *Summary) ModifiedMemory() []Entry { return entries(s.modifiedMemory) }

// Globals returns the placeholders created for globals & function values.
func (s *Summary) Globals() map[ssa.Value]havoc.Expr {
	other := make(map[ssa.Value]havoc.Expr, len(s.globals))
	for k, v := range s.globals {
		other[k] = v
	}
	return other
}

// Update resets the summary and populates it from the body of fn.
func (s *Summary) Update(fn *ssa.Function) {
	s.fn = fn
	s.seq = 0
	s.arguments = make([]havoc.Expr, len(fn.Params))
	s.returnValues = nil
	s.hasReturnValue = false
	s.stackMemory = immutable.NewSortedMap(&exprComparer{})
	s.modifiedMemory = immutable.NewSortedMap(&exprComparer{})
	s.globals = make(map[ssa.Value]havoc.Expr)
	s.values = make(map[ssa.Value]havoc.Expr)
	s.warned = make(map[string]struct{})

	for i, param := range fn.Params {
		s.arguments[i] = s.placeholder(fmt.Sprintf("arg:%d", i), param.Type())
	}

	log.Printf("[summary] begin: %s", fn.String())
	for _, blk := range fn.Blocks {
		for _, instr := range blk.Instrs {
			s.visit(instr)
		}
	}
}

// visit applies the effect of a single instruction.
func (s *Summary) visit(instr ssa.Instruction) {
	switch instr := instr.(type) {
	case *ssa.Return:
		s.visitReturn(instr)
	case *ssa.Store:
		s.visitStore(instr)
	case *ssa.UnOp:
		if instr.Op == token.MUL {
			s.Evaluate(instr) // loads observe prior stores only
			return
		}
		s.warn(instr)
	case *ssa.DebugRef, *ssa.Jump, *ssa.If:
		// no effect
	case *ssa.Alloc,
		*ssa.BinOp,
		*ssa.Call,
		*ssa.ChangeInterface,
		*ssa.ChangeType,
		*ssa.Convert,
		*ssa.MultiConvert,
		*ssa.Defer,
		*ssa.Extract,
		*ssa.Field,
		*ssa.FieldAddr,
		*ssa.Go,
		*ssa.Index,
		*ssa.IndexAddr,
		*ssa.Lookup,
		*ssa.MakeChan,
		*ssa.MakeClosure,
		*ssa.MakeInterface,
		*ssa.MakeMap,
		*ssa.MakeSlice,
		*ssa.MapUpdate,
		*ssa.Next,
		*ssa.Panic,
		*ssa.Phi,
		*ssa.Range,
		*ssa.RunDefers,
		*ssa.Select,
		*ssa.Send,
		*ssa.Slice,
		*ssa.SliceToArrayPointer,
		*ssa.TypeAssert:
		s.warn(instr)
	default:
		log.Printf("[summary] illegal instruction: %T", instr)
	}
}

func (s *Summary) visitReturn(instr *ssa.Return) {
	results := s.fn.Signature.Results()
	if results.Len() == 0 {
		s.hasReturnValue = false
		return
	}

	// A second return path makes the result unknown.
	if s.hasReturnValue {
		for i := range s.returnValues {
			s.returnValues[i] = s.placeholder(fmt.Sprintf("retval:%d", i), results.At(i).Type())
		}
		return
	}

	s.returnValues = make([]havoc.Expr, len(instr.Results))
	for i, v := range instr.Results {
		s.returnValues[i] = s.Evaluate(v)
	}
	s.hasReturnValue = true
}

func (s *Summary) visitStore(instr *ssa.Store) {
	addr, value := s.Evaluate(instr.Addr), s.Evaluate(instr.Val)
	if isStackAddr(instr.Addr) {
		s.stackMemory = s.record(s.stackMemory, addr, value)
	} else {
		s.modifiedMemory = s.record(s.modifiedMemory, addr, value)
	}
}

// record stores value at addr in m. A differing value already stored at addr
// is replaced by a fresh placeholder standing for either value.
func (s *Summary) record(m *immutable.SortedMap, addr, value havoc.Expr) *immutable.SortedMap {
	if prev, ok := m.Get(addr); ok {
		if old := prev.(havoc.Expr); havoc.CompareExpr(old, value) != 0 {
			value = s.newPlaceholder("merge:"+old.String(), havoc.ExprWidth(value))
		}
	}
	return m.Set(addr, value)
}

// Evaluate returns the expression for v. Repeated calls for the same value
// return the same expression.
func (s *Summary) Evaluate(v ssa.Value) havoc.Expr {
	switch v := v.(type) {
	case *ssa.Const:
		if expr := s.constant(v); expr != nil {
			return expr
		}
	case *ssa.Global, *ssa.Function:
		if expr, ok := s.globals[v]; ok {
			return expr
		}
		expr := s.placeholder("global:"+v.Name(), v.Type())
		s.globals[v] = expr
		return expr
	case *ssa.Parameter:
		for i, param := range s.fn.Params {
			if param == v {
				return s.arguments[i]
			}
		}
	}

	if expr, ok := s.values[v]; ok {
		return expr
	}

	var expr havoc.Expr
	if load, ok := v.(*ssa.UnOp); ok && load.Op == token.MUL {
		expr = s.load(load)
	} else {
		expr = s.placeholder(valueName(v), v.Type())
	}
	s.values[v] = expr
	return expr
}

// load returns the value last stored at the load's address, if any.
func (s *Summary) load(instr *ssa.UnOp) havoc.Expr {
	addr := s.Evaluate(instr.X)
	if value, ok := s.modifiedMemory.Get(addr); ok {
		return value.(havoc.Expr)
	} else if value, ok := s.stackMemory.Get(addr); ok {
		return value.(havoc.Expr)
	}
	return s.placeholder("load:"+valueName(instr), instr.Type())
}

// constant returns a concrete expression for a literal. Returns nil for
// literals without a scalar encoding, such as strings.
func (s *Summary) constant(c *ssa.Const) havoc.Expr {
	width := s.width(c.Type())
	if c.Value == nil {
		if width > havoc.Width64 {
			return nil
		}
		return havoc.NewConstantExpr(0, width)
	}

	switch c.Value.Kind() {
	case constant.Bool:
		return havoc.NewBoolConstantExpr(constant.BoolVal(c.Value))
	case constant.Int:
		if v, exact := constant.Int64Val(c.Value); exact {
			return havoc.NewConstantExpr(uint64(v), width)
		} else if v, exact := constant.Uint64Val(c.Value); exact {
			return havoc.NewConstantExpr(v, width)
		}
	case constant.Float:
		f, _ := constant.Float64Val(c.Value)
		if width == havoc.Width32 {
			return havoc.NewConstantExpr(uint64(math.Float32bits(float32(f))), width)
		}
		return havoc.NewConstantExpr(math.Float64bits(f), havoc.Width64)
	}
	return nil
}

// placeholder returns a fresh expression sized to typ.
func (s *Summary) placeholder(name string, typ types.Type) havoc.Expr {
	return s.newPlaceholder(name, s.width(typ))
}

func (s *Summary) newPlaceholder(name string, width uint) havoc.Expr {
	s.seq++
	array := havoc.NewArray(s.seq, (width+7)/8)
	array.Name = s.fn.String() + "/" + name

	if width < havoc.Width8 {
		return havoc.NewExtractExpr(array.Select(havoc.NewConstantExpr64(0), havoc.Width8, true), 0, width)
	}
	return array.Select(havoc.NewConstantExpr64(0), width, true)
}

// width returns the bit width of typ in the target layout.
func (s *Summary) width(typ types.Type) uint {
	if basic, ok := typ.Underlying().(*types.Basic); ok && basic.Info()&types.IsBoolean != 0 {
		return havoc.WidthBool
	}
	if width := uint(s.sizes.Sizeof(typ)) * 8; width > 0 {
		return width
	}
	return havoc.Width8
}

// warn logs an unhandled instruction once per instruction type.
func (s *Summary) warn(instr ssa.Instruction) {
	key := fmt.Sprintf("%T", instr)
	if _, ok := s.warned[key]; ok {
		return
	}
	s.warned[key] = struct{}{}
	log.Printf("[summary] unhandled instruction: %s", key)
}

// String returns a deterministic rendering of the summary.
func (s *Summary) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "SUMMARY %s\n", s.fn.String())

	fmt.Fprintln(&buf, "== ARGUMENTS")
	for i, arg := range s.arguments {
		fmt.Fprintf(&buf, "%d: %s\n", i, arg)
	}

	fmt.Fprintln(&buf, "== RETURN")
	if s.hasReturnValue {
		for i, v := range s.returnValues {
			fmt.Fprintf(&buf, "%d: %s\n", i, v)
		}
	} else {
		fmt.Fprintln(&buf, "none")
	}

	fmt.Fprintln(&buf, "== STACK MEMORY")
	for _, e := range s.StackMemory() {
		fmt.Fprintf(&buf, "%s = %s\n", e.Addr, e.Value)
	}

	fmt.Fprintln(&buf, "== MODIFIED MEMORY")
	for _, e := range s.ModifiedMemory() {
		fmt.Fprintf(&buf, "%s = %s\n", e.Addr, e.Value)
	}

	fmt.Fprintln(&buf, "== GLOBALS")
	names := make([]string, 0, len(s.globals))
	for v := range s.globals {
		names = append(names, v.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(&buf, name)
	}

	return buf.String()
}

// isStackAddr returns true if addr derives from a local, non-escaping allocation.
func isStackAddr(addr ssa.Value) bool {
	for {
		switch v := addr.(type) {
		case *ssa.Alloc:
			return !v.Heap
		case *ssa.FieldAddr:
			addr = v.X
		case *ssa.IndexAddr:
			addr = v.X
		case *ssa.Slice:
			addr = v.X
		default:
			return false
		}
	}
}

// valueName returns the SSA register name of v, or its type if unnamed.
func valueName(v ssa.Value) string {
	if name := v.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("%T", v)
}

func entries(m *immutable.SortedMap) []Entry {
	a := make([]Entry, 0, m.Len())
	itr := m.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		a = append(a, Entry{Addr: k.(havoc.Expr), Value: v.(havoc.Expr)})
	}
	return a
}

// exprComparer orders expressions structurally so that equal expressions
// share a map entry.
type exprComparer struct{}

func (c *exprComparer) Compare(a, b interface{}) int {
	return havoc.CompareExpr(a.(havoc.Expr), b.(havoc.Expr))
}
