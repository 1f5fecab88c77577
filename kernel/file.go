package kernel

import (
	"errors"
	"io"

	"github.com/benbjohnson/havoc"
)

const (
	maxIovecs      = 1024    // largest vector accepted by writev
	maxDescriptors = 1 << 16 // largest descriptor accepted by dup2
)

func (k *Simulator) open(c *call) error {
	return k.openFile(c, 2)
}

func (k *Simulator) openat(c *call) error {
	return k.openFile(c, 3)
}

// openFile allocates a file descriptor with the flags in argument slot i.
func (k *Simulator) openFile(c *call, i int) error {
	flags, ok := c.concrete(i, "flags")
	if !ok {
		return nil
	}

	fd, files := c.state.Files().Open(havoc.FileDescriptor{Type: havoc.FileDescriptorFile, Flags: flags})
	c.state.SetFiles(files)
	c.ret(c.word(fd))
	return nil
}

func (k *Simulator) close(c *call) error {
	fd, _, ok := c.descriptor(1)
	if !ok {
		return nil
	}
	c.state.SetFiles(c.state.Files().Close(fd))
	c.ret(c.word(0))
	return nil
}

func (k *Simulator) dup2(c *call) error {
	oldfd, d, ok := c.descriptor(1)
	if !ok {
		return nil
	}
	newfd, ok := c.concrete(2, "file descriptor")
	if !ok {
		return nil
	} else if newfd < 0 || newfd >= maxDescriptors {
		c.ret(c.word(-int64(EBADF)))
		return nil
	}

	if newfd != oldfd {
		c.state.SetFiles(c.state.Files().Set(newfd, d))
	}
	c.ret(c.word(newfd))
	return nil
}

func (k *Simulator) fstat(c *call) error {
	if _, _, ok := c.descriptor(1, havoc.FileDescriptorFile); !ok {
		return nil
	}

	states, err := c.havocBuffer([]*havoc.ExecutionState{c.state}, 2, SizeofStat, "stat")
	if err != nil {
		return err
	}
	c.retEach(states, c.word(0))
	return nil
}

func (k *Simulator) read(c *call) error {
	if _, _, ok := c.descriptor(1); !ok {
		return nil
	}
	count, ok := c.concrete(3, "count")
	if !ok {
		return nil
	} else if count == 0 {
		c.ret(c.word(0))
		return nil
	}

	states, err := c.havocBuffer([]*havoc.ExecutionState{c.state}, 2, uint64(count), "buf")
	if err != nil {
		return err
	}
	for _, state := range states {
		c.symbolicRet(state, "ret", 0, count)
	}
	return nil
}

func (k *Simulator) write(c *call) error {
	fd, _ := c.concrete(1, "file descriptor")
	chunks, total, ok := c.writeArgs(false)
	if !ok {
		return nil
	}
	k.flush(c, fd, chunks, total)
	return nil
}

func (k *Simulator) writev(c *call) error {
	fd, _ := c.concrete(1, "file descriptor")
	if iovcnt, _ := c.concrete(3, "iovcnt"); iovcnt < 0 || iovcnt > maxIovecs {
		c.ret(c.word(-int64(EINVAL)))
		return nil
	}

	chunks, total, ok := c.writeArgs(true)
	if !ok {
		return nil
	}
	k.flush(c, fd, chunks, total)
	return nil
}

// flush passes chunks through to the sink of fd and binds the number of bytes
// written. Without a sink the result is a symbolic count of at most total.
func (k *Simulator) flush(c *call, fd int64, chunks [][]byte, total int64) {
	w := k.sink(fd)
	if w == nil {
		c.symbolicRet(c.state, "ret", 0, total)
		return
	}

	var written int64
	for _, data := range chunks {
		n, _ := w.Write(data)
		written += int64(n)
	}
	c.ret(c.word(written))
}

// writeArg validates the buffer of a write call.
func writeArg(c *call) bool {
	_, _, ok := c.writeArgs(false)
	return ok
}

// writevArg validates the iovec array of a writev call.
func writevArg(c *call) bool {
	_, _, ok := c.writeArgs(true)
	return ok
}

// writeArgs returns the chunks of data written by a write or writev call and
// their total length. Content is only read for descriptors passed through to
// a sink. Terminates the state and returns false if the data cannot be read.
func (c *call) writeArgs(vectored bool) (chunks [][]byte, total int64, ok bool) {
	fd, _ := c.concrete(1, "file descriptor")
	sink := c.k.sink(fd) != nil

	if !vectored {
		count, _ := c.concrete(3, "count")
		if !sink {
			return nil, count, true
		}
		data, ok := c.readBytes(c.arg(2), count)
		return [][]byte{data}, count, ok
	}

	// Out of range counts are answered with EINVAL.
	iovcnt, _ := c.concrete(3, "iovcnt")
	if iovcnt <= 0 || iovcnt > maxIovecs {
		return nil, 0, true
	}
	iov, ok := c.arg(2).(*havoc.ConstantExpr)
	if !ok {
		c.fail("writev called with symbolic iovec pointer")
		return nil, 0, false
	}

	width := c.state.Executor().PointerWidth()
	for i := int64(0); i < iovcnt; i++ {
		addr := iov.Value + uint64(i*SizeofIovec)
		base, err := c.state.ReadExpr(havoc.NewConstantExpr(addr, width), width)
		if err != nil {
			c.fail("writev called with invalid iovec: %s", err)
			return nil, 0, false
		}
		length, err := c.state.ReadExpr(havoc.NewConstantExpr(addr+SizeofIovec/2, width), width)
		if err != nil {
			c.fail("writev called with invalid iovec: %s", err)
			return nil, 0, false
		}

		n, ok := length.(*havoc.ConstantExpr)
		if !ok {
			c.fail("writev called with symbolic iovec length")
			return nil, 0, false
		}
		total += signed(n)

		if !sink || n.Value == 0 {
			continue
		}
		data, ok := c.readBytes(base, signed(n))
		if !ok {
			return nil, 0, false
		}
		chunks = append(chunks, data)
	}
	return chunks, total, true
}

func (k *Simulator) getcwd(c *call) error {
	size, ok := c.concrete(2, "size")
	if !ok {
		return nil
	} else if size <= 0 {
		c.ret(c.word(-int64(EINVAL)))
		return nil
	}

	states, err := c.havocBuffer([]*havoc.ExecutionState{c.state}, 1, uint64(size), "buf")
	if err != nil {
		return err
	}
	for _, state := range states {
		c.symbolicRet(state, "ret", 1, size)
	}
	return nil
}

// sink returns the writer that receives writes to fd. Returns nil if writes
// to fd are not passed through.
func (k *Simulator) sink(fd int64) io.Writer {
	switch fd {
	case 1:
		return k.Stdout
	case 2:
		return k.Stderr
	default:
		return nil
	}
}

// readBytes returns n concrete bytes at addr. Terminates the state and
// returns false if the bytes cannot be read or are symbolic.
func (c *call) readBytes(addr havoc.Expr, n int64) ([]byte, bool) {
	if n == 0 {
		return nil, true
	}

	data, err := c.state.ReadBytes(addr, uint(n))
	if errors.Is(err, havoc.ErrSymbolicByte) {
		c.fail("%s called with symbolic data", c.name)
		return nil, false
	} else if errors.Is(err, havoc.ErrSymbolicAddr) {
		c.fail("%s called with symbolic buffer pointer", c.name)
		return nil, false
	} else if err != nil {
		c.fail("%s called with invalid buffer: %s", c.name, err)
		return nil, false
	}
	return data, true
}
