package funcs

var Counter int

func Nop() {}

func Add(a, b int) int {
	return a + b
}

func Widths(a int8, b int16, c int64, d bool, e string, f []byte) {}

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func Pair(a int32, b bool) (int32, bool) {
	return a, b
}

func StoreLoad(p *int, x int) int {
	*p = x
	return *p
}

func StoreTwice(p *int, x, y int) {
	*p = x
	*p = y
}

func StoreSame(p *int, x int) {
	*p = x
	*p = x
}

func StoreBoth(p, q *int, x int) {
	*p = x
	*q = x
	*p = 1
}

func SetGet(x int) int {
	Counter = x
	return Counter
}

func Local(x int) int {
	var s struct{ a, b int }
	s.a = x
	return s.b
}

func CallsAdd(x int) int {
	return Add(x, 1)
}
