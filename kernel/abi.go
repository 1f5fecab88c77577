package kernel

import (
	"fmt"
)

// System call numbers of the linux/amd64 target.
const (
	SYS_READ           = 0
	SYS_WRITE          = 1
	SYS_OPEN           = 2
	SYS_CLOSE          = 3
	SYS_FSTAT          = 5
	SYS_MMAP           = 9
	SYS_RT_SIGACTION   = 13
	SYS_RT_SIGPROCMASK = 14
	SYS_IOCTL          = 16
	SYS_WRITEV         = 20
	SYS_DUP2           = 33
	SYS_GETPID         = 39
	SYS_SOCKET         = 41
	SYS_CONNECT        = 42
	SYS_ACCEPT         = 43
	SYS_SENDTO         = 44
	SYS_RECVFROM       = 45
	SYS_BIND           = 49
	SYS_LISTEN         = 50
	SYS_GETSOCKNAME    = 51
	SYS_SETSOCKOPT     = 54
	SYS_EXIT           = 60
	SYS_FCNTL          = 72
	SYS_GETCWD         = 79
	SYS_GETTIMEOFDAY   = 96
	SYS_GETRLIMIT      = 97
	SYS_GETUID         = 102
	SYS_SETSID         = 112
	SYS_SETRLIMIT      = 160
	SYS_TIME           = 201
	SYS_CLOCK_GETTIME  = 228
	SYS_EXIT_GROUP     = 231
	SYS_OPENAT         = 257
	SYS_PRLIMIT64      = 302
)

// Resource limits.
const (
	RLIMIT_NOFILE = 7
	RLIM_INFINITY = ^uint64(0)

	// Soft & hard limit reported for RLIMIT_NOFILE.
	DefaultNoFileLimit = 1024
)

// Sizes, in bytes, of structures written by the simulator.
const (
	SizeofRlimit      = 16
	SizeofRlimT       = 8
	SizeofStat        = 144
	SizeofTimeval     = 16
	SizeofTimezone    = 8
	SizeofTimespec    = 16
	SizeofIovec       = 16
	SizeofSocklenT    = 4
	SizeofSockaddrMax = 128
)

// Errno is a positive error number of the target.
type Errno int64

const (
	EPERM        Errno = 1
	ENOENT       Errno = 2
	EINTR        Errno = 4
	EIO          Errno = 5
	EBADF        Errno = 9
	EAGAIN       Errno = 11
	ENOMEM       Errno = 12
	EACCES       Errno = 13
	EFAULT       Errno = 14
	EINVAL       Errno = 22
	EMFILE       Errno = 24
	ENOTTY       Errno = 25
	ENOSPC       Errno = 28
	EPIPE        Errno = 32
	ERANGE       Errno = 34
	ENOSYS       Errno = 38
	EOVERFLOW    Errno = 75
	EAFNOSUPPORT Errno = 97
	EADDRINUSE   Errno = 98
	ENETUNREACH  Errno = 101
	ECONNRESET   Errno = 104
	ENOBUFS      Errno = 105
	ETIMEDOUT    Errno = 110
	ECONNREFUSED Errno = 111
)

var errnoNames = map[Errno]string{
	EPERM:        "EPERM",
	ENOENT:       "ENOENT",
	EINTR:        "EINTR",
	EIO:          "EIO",
	EBADF:        "EBADF",
	EAGAIN:       "EAGAIN",
	ENOMEM:       "ENOMEM",
	EACCES:       "EACCES",
	EFAULT:       "EFAULT",
	EINVAL:       "EINVAL",
	EMFILE:       "EMFILE",
	ENOTTY:       "ENOTTY",
	ENOSPC:       "ENOSPC",
	EPIPE:        "EPIPE",
	ERANGE:       "ERANGE",
	ENOSYS:       "ENOSYS",
	EOVERFLOW:    "EOVERFLOW",
	EAFNOSUPPORT: "EAFNOSUPPORT",
	EADDRINUSE:   "EADDRINUSE",
	ENETUNREACH:  "ENETUNREACH",
	ECONNRESET:   "ECONNRESET",
	ENOBUFS:      "ENOBUFS",
	ETIMEDOUT:    "ETIMEDOUT",
	ECONNREFUSED: "ECONNREFUSED",
}

// String returns the symbolic name of the error number.
func (e Errno) String() string {
	if s, ok := errnoNames[e]; ok {
		return s
	}
	return fmt.Sprintf("Errno(%d)", int64(e))
}

// maxErrno is the largest error number a raw syscall result may encode.
const maxErrno = 4095
