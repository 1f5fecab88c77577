package exec

import (
	"github.com/benbjohnson/havoc"
)

// Observe functions are replaced by test handlers that record their argument.
func ObserveInt8(v int8)     {}
func ObserveUint8(v uint8)   {}
func ObserveUint64(v uint64) {}
func ObserveBool(v bool)     {}
func ObserveString(s string) {}
func ObserveBytes(b []byte)  {}

// Fill is intercepted by tests.
func Fill(p *[4]byte) int {
	p[0] = 1
	return 0
}

func Inputs() {
	ObserveInt8(havoc.Int8())
	ObserveUint64(havoc.Uint64())
	ObserveString(havoc.String(4))
	ObserveBytes(havoc.ByteSlice(3))
}

func Branch() {
	x := havoc.Int8()
	if x > 10 {
		ObserveInt8(1)
		return
	}
	ObserveInt8(0)
}

func Assert() {
	x := havoc.Int8()
	havoc.Assert(x < -4)
	ObserveInt8(x)
}

func AndNot() {
	ObserveUint8(0xF0 &^ havoc.Uint8())
}

func StringLess() {
	ObserveBool(havoc.String(0) < havoc.String(2))
	ObserveBool(havoc.String(2) <= havoc.String(2))
	ObserveBool(havoc.String(2) > havoc.String(1))
}

func Call() {
	var buf [4]byte
	n := Fill(&buf)
	ObserveUint64(uint64(n))
	ObserveUint8(buf[0])
}
