package program

import (
	"syscall"
	"unsafe"
)

// Observe is replaced by a test handler that records its argument.
func Observe(v uint64) {}

// Fill writes to p. Calls to it are approximated.
func Fill(p *[4]byte) int {
	p[0] = 1
	return 0
}

// Limit fills a buffer and then reads the open file limit.
func Limit() {
	var buf [4]byte
	Observe(uint64(Fill(&buf)))

	var rl syscall.Rlimit
	_, _, errno := syscall.Syscall(syscall.SYS_GETRLIMIT, syscall.RLIMIT_NOFILE, uintptr(unsafe.Pointer(&rl)), 0)
	if errno != 0 {
		Observe(uint64(errno))
		return
	}
	Observe(rl.Cur)
}

// BindClosed binds a socket after closing it.
func BindClosed() {
	fd, _, _ := syscall.Syscall(syscall.SYS_SOCKET, syscall.AF_INET, syscall.SOCK_STREAM, 0)
	syscall.Syscall(syscall.SYS_CLOSE, fd, 0, 0)
	syscall.Syscall(syscall.SYS_BIND, fd, 0, 0)
	Observe(uint64(fd))
}
