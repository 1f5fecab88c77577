// Package kernel simulates the operating system services reached through the
// generic syscall entry points. Calls are answered against a per-state
// descriptor table and return the least committal result consistent with the
// documented contract of each call.
package kernel

import (
	"fmt"
	"go/types"
	"io"
	"log"
	"os"

	"github.com/benbjohnson/havoc"
	"golang.org/x/tools/go/ssa"
)

// Simulator answers system calls issued by programs under analysis.
type Simulator struct {
	seq int // autoincrementing symbolic name suffix

	// Sinks for writes to descriptors 1 & 2.
	Stdout io.Writer
	Stderr io.Writer

	// If true, calls that can fail fork an additional state in which the
	// call returns one of its documented error codes.
	InjectFailures bool

	// Counters since the simulator was created.
	Stats Stats
}

// NewSimulator returns a new instance of Simulator writing to the process's
// stdout & stderr.
func NewSimulator() *Simulator {
	return &Simulator{
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
		InjectFailures: true,
	}
}

// Stats represents counters for the simulator.
type Stats struct {
	Calls       int // dispatched calls
	Failures    int // injected failure states
	Unsupported int // refused operations
	Terminated  int // states terminated by a handler
}

// entryPoints are the Go functions that trap into the kernel.
var entryPoints = []struct{ path, name string }{
	{"syscall", "Syscall"},
	{"syscall", "Syscall6"},
	{"syscall", "RawSyscall"},
	{"syscall", "RawSyscall6"},
	{"golang.org/x/sys/unix", "Syscall"},
	{"golang.org/x/sys/unix", "Syscall6"},
	{"golang.org/x/sys/unix", "RawSyscall"},
	{"golang.org/x/sys/unix", "RawSyscall6"},
	{"golang.org/x/sys/unix", "SyscallNoError"},
	{"golang.org/x/sys/unix", "RawSyscallNoError"},
}

// Register delegates every syscall entry point of e to the simulator.
func (k *Simulator) Register(e *havoc.Executor) {
	for _, ep := range entryPoints {
		e.Register(ep.path, ep.name, k.handle)
	}
}

// handle implements havoc.FunctionHandler.
func (k *Simulator) handle(state *havoc.ExecutionState, instr *ssa.Call) error {
	_, args := state.ExtractCall(instr)
	return k.Syscall(state, instr, args)
}

// Syscall executes a system call. The operation number is args[0] and the
// remaining arguments follow the target's syscall convention. The result is
// bound to instr in every successor state.
//
// Misuse by the program terminates the calling state and returns nil. An
// error is only returned for engine faults.
func (k *Simulator) Syscall(state *havoc.ExecutionState, instr *ssa.Call, args []havoc.Binding) error {
	if len(args) == 0 {
		return fmt.Errorf("kernel: syscall without operation")
	}
	k.Stats.Calls++

	c := &call{k: k, state: state, instr: instr, args: args, name: "syscall"}
	op, ok := args[0].(*havoc.ConstantExpr)
	if !ok {
		c.fail("syscall called with non-constant operation")
		return nil
	}

	def, ok := syscalls[int64(op.Value)]
	if !ok {
		k.Stats.Unsupported++
		c.fail("syscall called with unsupported operation: %d", int64(op.Value))
		return nil
	}
	c.name = def.name
	log.Printf("[kernel] %s: state=%d", def.name, state.ID())

	// Misuse terminates the calling state before any failure state exists.
	if def.check != nil && !def.check(c) {
		return nil
	}

	if k.InjectFailures && def.failures != nil {
		c.state = k.injectFailure(c, def.failures)
	}
	return def.fn(k, c)
}

// injectFailure forks the calling state into a failure state, where the call
// returns one of codes, and a success state that is returned.
func (k *Simulator) injectFailure(c *call, codes []Errno) *havoc.ExecutionState {
	e := c.state.Executor()
	k.Stats.Failures++

	ret := c.state.NewSymbolicExpr(k.nextName("syscall failures"), e.PointerWidth())
	var cond havoc.Expr
	for _, code := range codes {
		eq := havoc.NewBinaryExpr(havoc.EQ, ret, c.word(-int64(code)))
		if cond == nil {
			cond = eq
		} else {
			cond = havoc.NewBinaryExpr(havoc.OR, cond, eq)
		}
	}

	failed := e.Fork(c.state, cond)
	c.bind(failed, ret, havoc.NewBinaryExpr(havoc.SUB, c.word(0), ret))
	log.Printf("[kernel] %s: failure state=%d codes=%v", c.name, failed.ID(), codes)

	return e.Fork(c.state, nil)
}

// nextName returns prefix suffixed with a unique sequence number.
func (k *Simulator) nextName(prefix string) string {
	k.seq++
	return fmt.Sprintf("%s %d", prefix, k.seq)
}

// syscallDef describes how one operation is simulated.
type syscallDef struct {
	name  string
	check check
	fn    func(k *Simulator, c *call) error

	// Error codes injected by forking. No failure is injected if nil.
	failures []Errno
}

var syscalls = map[int64]syscallDef{
	SYS_READ:           {"read", all(fdArg(), countArg(3, "count")), (*Simulator).read, []Errno{ENOSYS, EAGAIN, EINTR, EIO}},
	SYS_WRITE:          {"write", all(fdArg(), countArg(3, "count"), writeArg), (*Simulator).write, []Errno{ENOSYS, EAGAIN, EINTR, EIO, ENOSPC, EPIPE}},
	SYS_OPEN:           {"open", constArg(2, "flags"), (*Simulator).open, []Errno{ENOSYS, EACCES, ENOENT, EMFILE}},
	SYS_OPENAT:         {"openat", constArg(3, "flags"), (*Simulator).openat, []Errno{ENOSYS, EACCES, ENOENT, EMFILE}},
	SYS_CLOSE:          {"close", fdArg(), (*Simulator).close, []Errno{ENOSYS, EINTR, EIO}},
	SYS_FSTAT:          {"fstat", all(fdArg(havoc.FileDescriptorFile), ptrArg(2, "stat")), (*Simulator).fstat, []Errno{ENOSYS, EIO, EOVERFLOW}},
	SYS_MMAP:           {"mmap", nil, (*Simulator).mmap, nil},
	SYS_RT_SIGACTION:   {"rt_sigaction", nil, (*Simulator).nop, nil},
	SYS_RT_SIGPROCMASK: {"rt_sigprocmask", nil, (*Simulator).nop, nil},
	SYS_IOCTL:          {"ioctl", fdArg(havoc.FileDescriptorSocket), (*Simulator).nop, []Errno{ENOSYS, EINVAL, ENOTTY}},
	SYS_WRITEV:         {"writev", all(fdArg(), constArg(3, "iovcnt"), writevArg), (*Simulator).writev, []Errno{ENOSYS, EAGAIN, EINTR, EIO, ENOSPC, EPIPE}},
	SYS_DUP2:           {"dup2", all(fdArg(), constArg(2, "file descriptor")), (*Simulator).dup2, []Errno{ENOSYS, EINTR}},
	SYS_GETPID:         {"getpid", nil, (*Simulator).symbolic, nil},
	SYS_SOCKET:         {"socket", all(constArg(1, "domain"), constArg(2, "type"), constArg(3, "protocol")), (*Simulator).socket, []Errno{ENOSYS, EACCES, EAFNOSUPPORT, EMFILE, ENOBUFS}},
	SYS_CONNECT:        {"connect", fdArg(havoc.FileDescriptorSocket), (*Simulator).nop, []Errno{ENOSYS, ECONNREFUSED, ENETUNREACH, ETIMEDOUT}},
	SYS_ACCEPT:         {"accept", fdArg(havoc.FileDescriptorSocket), (*Simulator).accept, []Errno{ENOSYS, EAGAIN, EINTR, EMFILE}},
	SYS_SENDTO:         {"sendto", all(fdArg(havoc.FileDescriptorSocket), countArg(3, "length")), (*Simulator).sendto, []Errno{ENOSYS, EAGAIN, ECONNRESET, EPIPE}},
	SYS_RECVFROM:       {"recvfrom", all(fdArg(havoc.FileDescriptorSocket), countArg(3, "length")), (*Simulator).recvfrom, []Errno{ENOSYS, EAGAIN, ECONNRESET, EINTR}},
	SYS_BIND:           {"bind", fdArg(havoc.FileDescriptorSocket), (*Simulator).nop, []Errno{ENOSYS, EACCES, EADDRINUSE, EINVAL}},
	SYS_LISTEN:         {"listen", fdArg(havoc.FileDescriptorSocket), (*Simulator).nop, []Errno{ENOSYS, EADDRINUSE}},
	SYS_GETSOCKNAME:    {"getsockname", fdArg(havoc.FileDescriptorSocket), (*Simulator).getsockname, []Errno{ENOSYS, ENOBUFS}},
	SYS_SETSOCKOPT:     {"setsockopt", fdArg(havoc.FileDescriptorSocket), (*Simulator).nop, []Errno{ENOSYS, EINVAL}},
	SYS_EXIT:           {"exit", nil, (*Simulator).exit, nil},
	SYS_EXIT_GROUP:     {"exit_group", nil, (*Simulator).exit, nil},
	SYS_FCNTL:          {"fcntl", fdArg(havoc.FileDescriptorSocket), (*Simulator).nop, []Errno{ENOSYS, EINVAL}},
	SYS_GETCWD:         {"getcwd", constArg(2, "size"), (*Simulator).getcwd, []Errno{ENOSYS, ENOENT, ERANGE}},
	SYS_GETTIMEOFDAY:   {"gettimeofday", all(ptrArg(1, "tv"), ptrArg(2, "tz")), (*Simulator).gettimeofday, []Errno{ENOSYS}},
	SYS_GETRLIMIT:      {"getrlimit", all(constArg(1, "resource"), ptrArg(2, "rlim")), (*Simulator).getrlimit, []Errno{ENOSYS, EINVAL}},
	SYS_GETUID:         {"getuid", nil, (*Simulator).symbolic, nil},
	SYS_SETSID:         {"setsid", nil, (*Simulator).symbolic, nil},
	SYS_SETRLIMIT:      {"setrlimit", constArg(1, "resource"), (*Simulator).nop, []Errno{ENOSYS, EINVAL, EPERM}},
	SYS_TIME:           {"time", ptrArg(1, "tloc"), (*Simulator).time, nil},
	SYS_CLOCK_GETTIME:  {"clock_gettime", all(constArg(1, "clock"), ptrArg(2, "tp")), (*Simulator).clockGettime, []Errno{ENOSYS, EINVAL}},
	SYS_PRLIMIT64:      {"prlimit64", all(constArg(1, "pid"), constArg(2, "resource")), (*Simulator).prlimit64, []Errno{ENOSYS, EINVAL, EPERM}},
}

// check validates the arguments of a call against the calling state. On
// misuse it terminates the state and returns false. A check never forks.
type check func(c *call) bool

// all returns a check that passes if every check passes, in order.
func all(checks ...check) check {
	return func(c *call) bool {
		for _, chk := range checks {
			if !chk(c) {
				return false
			}
		}
		return true
	}
}

// fdArg returns a check for an initialized descriptor of one of the wanted
// types in argument slot 1.
func fdArg(want ...havoc.FileDescriptorType) check {
	return func(c *call) bool {
		_, _, ok := c.descriptor(1, want...)
		return ok
	}
}

// constArg returns a check for a concrete value in argument slot i.
func constArg(i int, what string) check {
	return func(c *call) bool {
		_, ok := c.concrete(i, what)
		return ok
	}
}

// ptrArg returns a check that a concrete pointer in argument slot i refers to
// an object. Null and symbolic pointers are left to the handler.
func ptrArg(i int, what string) check {
	return func(c *call) bool {
		addr, ok := c.arg(i).(*havoc.ConstantExpr)
		if !ok || addr.Value == 0 {
			return true
		} else if _, _, err := c.state.FindObject(addr); err != nil {
			c.fail("%s called with unresolvable %s", c.name, what)
			return false
		}
		return true
	}
}

// countArg returns a check for a concrete, non-negative value in argument
// slot i.
func countArg(i int, what string) check {
	return func(c *call) bool {
		n, ok := c.concrete(i, what)
		if ok && n < 0 {
			c.fail("%s called with negative %s: %d", c.name, what, n)
			return false
		}
		return ok
	}
}

// call holds the arguments of one system call invocation.
type call struct {
	k     *Simulator
	state *havoc.ExecutionState
	instr *ssa.Call
	args  []havoc.Binding
	name  string
}

// word returns a pointer-width constant.
func (c *call) word(v int64) *havoc.ConstantExpr {
	return havoc.NewConstantExpr(uint64(v), c.state.Executor().PointerWidth())
}

// arg returns the expression in argument slot i. Slots past the end of the
// argument list read as zero.
func (c *call) arg(i int) havoc.Expr {
	if i >= len(c.args) {
		return c.word(0)
	}
	expr, ok := c.args[i].(havoc.Expr)
	if !ok {
		return c.word(0)
	}
	return expr
}

// isNull returns true if argument slot i is the constant zero.
func (c *call) isNull(i int) bool {
	v, ok := c.arg(i).(*havoc.ConstantExpr)
	return ok && v.Value == 0
}

// concrete returns the signed value of argument slot i. Terminates the state
// and returns false if the argument is symbolic.
func (c *call) concrete(i int, what string) (int64, bool) {
	v, ok := c.arg(i).(*havoc.ConstantExpr)
	if !ok {
		c.fail("%s called with symbolic %s", c.name, what)
		return 0, false
	}
	return signed(v), true
}

// descriptor returns the descriptor in argument slot i. The slot must hold a
// concrete, in-range descriptor of one of the wanted types. If no type is
// given then any initialized descriptor is accepted.
func (c *call) descriptor(i int, want ...havoc.FileDescriptorType) (int64, havoc.FileDescriptor, bool) {
	fd, ok := c.concrete(i, "file descriptor")
	if !ok {
		return 0, havoc.FileDescriptor{}, false
	}

	d, ok := c.state.Files().Get(fd)
	if !ok {
		c.fail("%s called with bad file descriptor: %d", c.name, fd)
		return 0, havoc.FileDescriptor{}, false
	}

	if len(want) == 0 {
		if d.Type == havoc.FileDescriptorUninitialized {
			c.fail("%s called on uninitialized file descriptor: %d", c.name, fd)
			return 0, havoc.FileDescriptor{}, false
		}
		return fd, d, true
	}
	for _, typ := range want {
		if d.Type == typ {
			return fd, d, true
		}
	}
	c.fail("%s called on %s file descriptor %d, expected %s", c.name, d.Type, fd, want[0])
	return 0, havoc.FileDescriptor{}, false
}

// fail terminates the current state with a user error.
func (c *call) fail(format string, args ...interface{}) {
	c.failState(c.state, format, args...)
}

// failState terminates state with a user error.
func (c *call) failState(state *havoc.ExecutionState, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[kernel] %s", msg)
	c.k.Stats.Terminated++
	state.Terminate(havoc.ExecutionStatusErrored, msg)
}

// ret binds a result to the call in the current state.
func (c *call) ret(value havoc.Expr) {
	c.bind(c.state, value, c.errno(value))
}

// bind binds the raw result & errno in the shape of the entry point's results.
func (c *call) bind(state *havoc.ExecutionState, r1, errno havoc.Expr) {
	if c.instr == nil {
		return
	}

	results, ok := c.instr.Type().(*types.Tuple)
	if !ok {
		state.BindLocal(c.instr, r1)
		return
	}

	tuple := havoc.Tuple{r1, c.word(0), errno}
	if n := results.Len(); n < len(tuple) {
		tuple = tuple[:n]
	}
	state.BindLocal(c.instr, tuple)
}

// retEach binds value as the result in every state.
func (c *call) retEach(states []*havoc.ExecutionState, value havoc.Expr) {
	for _, state := range states {
		c.bind(state, value, c.errno(value))
	}
}

// symbolicName returns a unique name for symbolic content produced for the
// argument described by what.
func (c *call) symbolicName(what string) string {
	c.k.seq++
	return fmt.Sprintf("syscall::%s/%s/%d", c.name, what, c.k.seq)
}

// symbolicRet binds a fresh result constrained to the inclusive range [lo, hi].
func (c *call) symbolicRet(state *havoc.ExecutionState, name string, lo, hi int64) {
	ret := state.NewSymbolicExpr(c.symbolicName(name), c.state.Executor().PointerWidth())
	state.AddConstraint(havoc.NewBinaryExpr(havoc.SLE, c.word(lo), ret))
	state.AddConstraint(havoc.NewBinaryExpr(havoc.SLE, ret, c.word(hi)))
	c.bind(state, ret, c.word(0))
}

// forEachObject resolves the pointer in argument slot i within every state
// and calls fn for each object it may refer to. The offset passed to fn is
// the pointer's offset within the object. States in which the pointer refers
// to no object are terminated. Returns the states fn was called with.
func (c *call) forEachObject(states []*havoc.ExecutionState, i int, what string, fn func(r havoc.Resolution, offset havoc.Expr) error) ([]*havoc.ExecutionState, error) {
	addr := c.arg(i)

	var next []*havoc.ExecutionState
	for _, state := range states {
		resolutions, err := state.Executor().ResolveExact(state, addr, c.name+"::"+what)
		if err != nil {
			return nil, err
		} else if len(resolutions) == 0 {
			c.failState(state, "%s called with unresolvable %s", c.name, what)
			continue
		}

		for _, r := range resolutions {
			offset := havoc.NewBinaryExpr(havoc.SUB, addr, r.Base)
			if err := fn(r, offset); err != nil {
				return nil, err
			} else if r.State.Terminated() {
				continue
			}
			next = append(next, r.State)
		}
	}
	return next, nil
}

// havocBuffer overwrites up to n bytes at the pointer in argument slot i with
// fresh symbolic content in every state. The region is clipped to the
// capacity of the object it points into. A symbolic pointer havocs the
// whole object.
func (c *call) havocBuffer(states []*havoc.ExecutionState, i int, n uint64, what string) ([]*havoc.ExecutionState, error) {
	name := c.symbolicName(what)
	return c.forEachObject(states, i, what, func(r havoc.Resolution, offset havoc.Expr) error {
		off, ok := offset.(*havoc.ConstantExpr)
		if !ok {
			r.State.Havoc(r.Base, r.Array, name)
			return nil
		}
		r.State.HavocRange(r.Base, r.Array, uint(off.Value), uint(n), name)
		return nil
	})
}

// signed returns the value of a constant interpreted as a signed integer.
func signed(v *havoc.ConstantExpr) int64 {
	if v.Width >= 64 {
		return int64(v.Value)
	}
	return int64(v.SExt(64).Value)
}

// errno returns the error number encoded by a raw result. Results that do
// not encode an error, including symbolic ones, return zero.
func (c *call) errno(ret havoc.Expr) havoc.Expr {
	if v, ok := ret.(*havoc.ConstantExpr); ok {
		if n := signed(v); n < 0 && n >= -maxErrno {
			return c.word(-n)
		}
	}
	return c.word(0)
}
