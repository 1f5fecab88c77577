package havoc

import (
	"fmt"
)

// ConstantExpr represents a fixed-width integer of up to 64 bits.
//
// Arithmetic wraps at the expression width. Division by zero follows the
// SMT-LIB bit-vector rules so folded constants agree with the solver.
type ConstantExpr struct {
	Value uint64
	Width uint
}

// NewConstantExpr returns a new instance of ConstantExpr.
// Bits above width are discarded.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	return &ConstantExpr{
		Value: value & bitmask(width),
		Width: width,
	}
}

// NewConstantExpr8 returns a 8-bit constant expression.
func NewConstantExpr8(value uint64) *ConstantExpr { return NewConstantExpr(value, Width8) }

// NewConstantExpr16 returns a 16-bit constant expression.
func NewConstantExpr16(value uint64) *ConstantExpr { return NewConstantExpr(value, Width16) }

// NewConstantExpr32 returns a 32-bit constant expression.
func NewConstantExpr32(value uint64) *ConstantExpr { return NewConstantExpr(value, Width32) }

// NewConstantExpr64 returns a 64-bit constant expression.
func NewConstantExpr64(value uint64) *ConstantExpr { return NewConstantExpr(value, Width64) }

// NewBoolConstantExpr is an ease of use function for creating constant boolean expressions.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return &ConstantExpr{Value: 1, Width: WidthBool}
	}
	return &ConstantExpr{Value: 0, Width: WidthBool}
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	return fmt.Sprintf("(const %d %d)", e.Value, e.Width)
}

// Int64 returns the value sign-extended from the expression width.
func (e *ConstantExpr) Int64() int64 {
	if e.Width == 0 || e.Width >= 64 {
		return int64(e.Value)
	}
	shift := 64 - e.Width
	return int64(e.Value<<shift) >> shift
}

// IsTrue returns true if this is a boolean true expression.
func (e *ConstantExpr) IsTrue() bool {
	return e.Width == WidthBool && e.Value != 0
}

// IsFalse returns true if this is a boolean false expression.
func (e *ConstantExpr) IsFalse() bool {
	return e.Width == WidthBool && e.Value == 0
}

// IsAllOnes returns true if all bits in the value are one.
func (e *ConstantExpr) IsAllOnes() bool {
	return e.Value == bitmask(e.Width)
}

// checkWidth panics if the operands of op have different widths.
func (e *ConstantExpr) checkWidth(op string, other *ConstantExpr) {
	assert(e.Width == other.Width, "%s: width mismatch: %d != %d", op, e.Width, other.Width)
}

// Add returns the sum of e and other.
func (e *ConstantExpr) Add(other *ConstantExpr) *ConstantExpr {
	e.checkWidth("add", other)
	return NewConstantExpr(e.Value+other.Value, e.Width)
}

// Sub returns the difference of e and other.
func (e *ConstantExpr) Sub(other *ConstantExpr) *ConstantExpr {
	e.checkWidth("sub", other)
	return NewConstantExpr(e.Value-other.Value, e.Width)
}

// Mul returns the product of e and other.
func (e *ConstantExpr) Mul(other *ConstantExpr) *ConstantExpr {
	e.checkWidth("mul", other)
	return NewConstantExpr(e.Value*other.Value, e.Width)
}

// UDiv returns the quotient of unsigned division of e and other.
// Dividing by zero returns all ones.
func (e *ConstantExpr) UDiv(other *ConstantExpr) *ConstantExpr {
	e.checkWidth("udiv", other)
	if other.Value == 0 {
		return NewConstantExpr(bitmask(e.Width), e.Width)
	}
	return NewConstantExpr(e.Value/other.Value, e.Width)
}

// SDiv returns the quotient of signed division of e and other.
// Dividing by zero returns -1 for a non-negative dividend and 1 otherwise.
func (e *ConstantExpr) SDiv(other *ConstantExpr) *ConstantExpr {
	e.checkWidth("sdiv", other)
	if other.Value == 0 {
		if e.Int64() < 0 {
			return NewConstantExpr(1, e.Width)
		}
		return NewConstantExpr(bitmask(e.Width), e.Width)
	}
	return NewConstantExpr(uint64(e.Int64()/other.Int64()), e.Width)
}

// URem returns the remainder of unsigned division of e and other.
// The remainder of division by zero is e.
func (e *ConstantExpr) URem(other *ConstantExpr) *ConstantExpr {
	e.checkWidth("urem", other)
	if other.Value == 0 {
		return e
	}
	return NewConstantExpr(e.Value%other.Value, e.Width)
}

// SRem returns the remainder of signed division of e and other.
// The remainder of division by zero is e.
func (e *ConstantExpr) SRem(other *ConstantExpr) *ConstantExpr {
	e.checkWidth("srem", other)
	if other.Value == 0 {
		return e
	}
	return NewConstantExpr(uint64(e.Int64()%other.Int64()), e.Width)
}

// And returns the bitwise AND of e and other.
func (e *ConstantExpr) And(other *ConstantExpr) *ConstantExpr {
	e.checkWidth("and", other)
	return NewConstantExpr(e.Value&other.Value, e.Width)
}

// Or returns the bitwise OR of e and other.
func (e *ConstantExpr) Or(other *ConstantExpr) *ConstantExpr {
	e.checkWidth("or", other)
	return NewConstantExpr(e.Value|other.Value, e.Width)
}

// Xor returns the bitwise XOR of e and other.
func (e *ConstantExpr) Xor(other *ConstantExpr) *ConstantExpr {
	e.checkWidth("xor", other)
	return NewConstantExpr(e.Value^other.Value, e.Width)
}

// Shl returns the value of e shifted left by other number of bits.
func (e *ConstantExpr) Shl(other *ConstantExpr) *ConstantExpr {
	if other.Value >= uint64(e.Width) {
		return NewConstantExpr(0, e.Width)
	}
	return NewConstantExpr(e.Value<<other.Value, e.Width)
}

// LShr returns the value of e logically shifted right by other number of bits.
func (e *ConstantExpr) LShr(other *ConstantExpr) *ConstantExpr {
	if other.Value >= uint64(e.Width) {
		return NewConstantExpr(0, e.Width)
	}
	return NewConstantExpr(e.Value>>other.Value, e.Width)
}

// AShr returns the value of e arithmetically shifted right by other number of bits.
func (e *ConstantExpr) AShr(other *ConstantExpr) *ConstantExpr {
	shift := other.Value
	if shift > 63 {
		shift = 63
	}
	return NewConstantExpr(uint64(e.Int64()>>shift), e.Width)
}

// Eq returns the equality of e and other.
func (e *ConstantExpr) Eq(other *ConstantExpr) *ConstantExpr {
	e.checkWidth("eq", other)
	return NewBoolConstantExpr(e.Value == other.Value)
}

// Ult returns the unsigned less than comparison of e to other.
func (e *ConstantExpr) Ult(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Value < other.Value)
}

// Ugt returns the unsigned greater than comparison of e to other.
func (e *ConstantExpr) Ugt(other *ConstantExpr) *ConstantExpr { return other.Ult(e) }

// Ule returns the unsigned less than or equal to comparison of e to other.
func (e *ConstantExpr) Ule(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Value <= other.Value)
}

// Slt returns the signed less than comparison of e to other.
func (e *ConstantExpr) Slt(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Int64() < other.Int64())
}

// Sle returns the signed less than or equal to comparison of e to other.
func (e *ConstantExpr) Sle(other *ConstantExpr) *ConstantExpr {
	return NewBoolConstantExpr(e.Int64() <= other.Int64())
}

// Sge returns the signed greater than or equal to comparison of e to other.
func (e *ConstantExpr) Sge(other *ConstantExpr) *ConstantExpr { return other.Sle(e) }

// ZExt returns the zero-extension of e to a new width.
// Extending to a boolean tests for a non-zero value.
func (e *ConstantExpr) ZExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	} else if width == WidthBool {
		return NewBoolConstantExpr(e.Value != 0)
	}
	return NewConstantExpr(e.Value, width)
}

// SExt returns the sign-extension of e to a new width.
// A narrower width truncates.
func (e *ConstantExpr) SExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	}
	return NewConstantExpr(uint64(e.Int64()), width)
}

// Not returns the bitwise NOT of the expression.
func (e *ConstantExpr) Not() *ConstantExpr {
	return NewConstantExpr(^e.Value, e.Width)
}

// Extract returns width number of bits starting at offset.
func (e *ConstantExpr) Extract(offset, width uint) *ConstantExpr {
	return NewConstantExpr(e.Value>>offset, width)
}

// Concat returns the concatenation of e and lsb.
func (e *ConstantExpr) Concat(lsb *ConstantExpr) *ConstantExpr {
	return NewConstantExpr((e.Value<<lsb.Width)|lsb.Value, e.Width+lsb.Width)
}

// bitmask returns a mask of the low width bits.
func bitmask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (1 << width) - 1
}

// IsConstantExpr returns true if expr is an instance of ConstantExpr.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue returns true if expr is an instance of ConstantExpr and is true.
func IsConstantTrue(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsTrue()
}

// IsConstantFalse returns true if expr is an instance of ConstantExpr and is false.
func IsConstantFalse(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsFalse()
}
