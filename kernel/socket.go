package kernel

import (
	"github.com/benbjohnson/havoc"
)

func (k *Simulator) socket(c *call) error {
	domain, ok := c.concrete(1, "domain")
	if !ok {
		return nil
	}
	typ, ok := c.concrete(2, "type")
	if !ok {
		return nil
	}
	protocol, ok := c.concrete(3, "protocol")
	if !ok {
		return nil
	}

	fd, files := c.state.Files().Open(havoc.FileDescriptor{
		Type:     havoc.FileDescriptorSocket,
		Domain:   domain,
		SockType: typ,
		Protocol: protocol,
	})
	c.state.SetFiles(files)
	c.ret(c.word(fd))
	return nil
}

func (k *Simulator) accept(c *call) error {
	_, d, ok := c.descriptor(1, havoc.FileDescriptorSocket)
	if !ok {
		return nil
	}

	fd, files := c.state.Files().Open(havoc.FileDescriptor{
		Type:     havoc.FileDescriptorSocket,
		Domain:   d.Domain,
		SockType: d.SockType,
		Protocol: d.Protocol,
	})
	c.state.SetFiles(files)

	states, err := c.havocAddr([]*havoc.ExecutionState{c.state}, 2, 3)
	if err != nil {
		return err
	}
	c.retEach(states, c.word(fd))
	return nil
}

func (k *Simulator) getsockname(c *call) error {
	if _, _, ok := c.descriptor(1, havoc.FileDescriptorSocket); !ok {
		return nil
	} else if c.isNull(2) || c.isNull(3) {
		c.ret(c.word(-int64(EFAULT)))
		return nil
	}

	states, err := c.havocAddr([]*havoc.ExecutionState{c.state}, 2, 3)
	if err != nil {
		return err
	}
	c.retEach(states, c.word(0))
	return nil
}

func (k *Simulator) sendto(c *call) error {
	if _, _, ok := c.descriptor(1, havoc.FileDescriptorSocket); !ok {
		return nil
	}
	n, ok := c.concrete(3, "length")
	if !ok {
		return nil
	}
	c.symbolicRet(c.state, "ret", 0, n)
	return nil
}

func (k *Simulator) recvfrom(c *call) error {
	if _, _, ok := c.descriptor(1, havoc.FileDescriptorSocket); !ok {
		return nil
	}
	n, ok := c.concrete(3, "length")
	if !ok {
		return nil
	}

	states := []*havoc.ExecutionState{c.state}
	if n > 0 {
		var err error
		if states, err = c.havocBuffer(states, 2, uint64(n), "buf"); err != nil {
			return err
		}
	}
	states, err := c.havocAddr(states, 5, 6)
	if err != nil {
		return err
	}
	for _, state := range states {
		c.symbolicRet(state, "ret", 0, n)
	}
	return nil
}

// havocAddr havocs the socket address buffer in slot addr and replaces the
// length in slot addrlen with a fresh length no larger than a sockaddr.
// Null pointers are skipped.
func (c *call) havocAddr(states []*havoc.ExecutionState, addr, addrlen int) ([]*havoc.ExecutionState, error) {
	if c.isNull(addr) || c.isNull(addrlen) {
		return states, nil
	}

	states, err := c.havocBuffer(states, addr, SizeofSockaddrMax, "addr")
	if err != nil {
		return nil, err
	}

	name := c.symbolicName("addrlen")
	return c.forEachObject(states, addrlen, "addrlen", func(r havoc.Resolution, offset havoc.Expr) error {
		n := r.State.NewSymbolicExpr(name, SizeofSocklenT*8)
		r.State.AddConstraint(havoc.NewBinaryExpr(havoc.ULE, n, havoc.NewConstantExpr(SizeofSockaddrMax, SizeofSocklenT*8)))
		if _, err := r.State.WriteExpr(r.Base, r.Array, offset, n); err != nil {
			c.failState(r.State, "%s called with invalid addrlen: %s", c.name, err)
		}
		return nil
	})
}
