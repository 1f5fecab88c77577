package approx

// Fill writes to p. Calls to it are approximated.
func Fill(p *[4]byte) int {
	p[0] = 1
	return 0
}

// Copy writes to dst & src. Calls to it are approximated.
func Copy(dst *[4]byte, src *[8]byte) int {
	dst[0], src[0] = 1, 1
	return 0
}

// Read writes to b. Calls to it are approximated.
func Read(b []byte) (int, bool) {
	return copy(b, "data"), true
}

// Grab writes to p and returns an aggregate. Calls to it are approximated.
func Grab(p *[4]byte) [16]byte {
	p[0] = 1
	return [16]byte{}
}

// Nop has no results. Calls to it are approximated.
func Nop(p *[4]byte) {}

// Unlisted is not approximated.
func Unlisted() int { return 0 }

func CallFill(p *[4]byte) int { return Fill(p) }

func CallCopy(dst *[4]byte, src *[8]byte) int { return Copy(dst, src) }

func CallRead(b []byte) int {
	n, _ := Read(b)
	return n
}

func CallGrab(p *[4]byte) byte {
	b := Grab(p)
	return b[0]
}

func CallNop(p *[4]byte) { Nop(p) }
