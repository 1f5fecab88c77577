package kernel

import (
	"fmt"
	"log"

	"github.com/benbjohnson/havoc"
)

// nop succeeds with no effect. Calls such as setrlimit and bind are accepted
// without being enforced once their arguments are validated.
func (k *Simulator) nop(c *call) error {
	c.ret(c.word(0))
	return nil
}

// symbolic returns a fresh unconstrained value.
func (k *Simulator) symbolic(c *call) error {
	c.ret(c.state.NewSymbolicExpr(c.symbolicName("ret"), c.state.Executor().PointerWidth()))
	return nil
}

func (k *Simulator) exit(c *call) error {
	reason := c.name
	if code, ok := c.arg(1).(*havoc.ConstantExpr); ok {
		reason = fmt.Sprintf("%s(%d)", c.name, int32(code.Value))
	}
	log.Printf("[kernel] %s: state=%d", reason, c.state.ID())
	c.state.Terminate(havoc.ExecutionStatusExited, reason)
	return nil
}

func (k *Simulator) mmap(c *call) error {
	k.Stats.Unsupported++
	c.fail("mmap unsupported")
	return nil
}

func (k *Simulator) getrlimit(c *call) error {
	resource, ok := c.concrete(1, "resource")
	if !ok {
		return nil
	} else if c.isNull(2) {
		c.ret(c.word(-int64(EFAULT)))
		return nil
	}

	states, err := c.writeRlimit([]*havoc.ExecutionState{c.state}, 2, resource)
	if err != nil {
		return err
	}
	c.retEach(states, c.word(0))
	return nil
}

// prlimit64 reads the limits of the calling process. New limits are ignored.
func (k *Simulator) prlimit64(c *call) error {
	pid, ok := c.concrete(1, "pid")
	if !ok {
		return nil
	} else if pid != 0 {
		c.ret(c.word(-1))
		return nil
	}
	resource, ok := c.concrete(2, "resource")
	if !ok {
		return nil
	}

	states := []*havoc.ExecutionState{c.state}
	if !c.isNull(4) {
		var err error
		if states, err = c.writeRlimit(states, 4, resource); err != nil {
			return err
		}
	}
	c.retEach(states, c.word(0))
	return nil
}

// writeRlimit writes the soft & hard limits of resource to the rlimit
// structure in argument slot i.
func (c *call) writeRlimit(states []*havoc.ExecutionState, i int, resource int64) ([]*havoc.ExecutionState, error) {
	soft, hard := RLIM_INFINITY, RLIM_INFINITY
	if resource == RLIMIT_NOFILE {
		soft, hard = DefaultNoFileLimit, DefaultNoFileLimit
	}

	return c.forEachObject(states, i, "rlim", func(r havoc.Resolution, offset havoc.Expr) error {
		array, err := r.State.WriteExpr(r.Base, r.Array, offset, havoc.NewConstantExpr64(soft))
		if err == nil {
			next := havoc.NewBinaryExpr(havoc.ADD, offset, havoc.NewConstantExpr(SizeofRlimT, havoc.ExprWidth(offset)))
			_, err = r.State.WriteExpr(r.Base, array, next, havoc.NewConstantExpr64(hard))
		}
		if err != nil {
			c.failState(r.State, "%s called with invalid rlimit buffer: %s", c.name, err)
		}
		return nil
	})
}

func (k *Simulator) time(c *call) error {
	width := c.state.Executor().PointerWidth()
	now := c.state.NewSymbolicExpr(c.symbolicName("ret"), width)
	c.state.AddConstraint(havoc.NewBinaryExpr(havoc.SLE, c.word(0), now))

	states := []*havoc.ExecutionState{c.state}
	if !c.isNull(1) {
		var err error
		states, err = c.forEachObject(states, 1, "tloc", func(r havoc.Resolution, offset havoc.Expr) error {
			if _, err := r.State.WriteExpr(r.Base, r.Array, offset, now); err != nil {
				c.failState(r.State, "time called with invalid tloc: %s", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	c.retEach(states, now)
	return nil
}

func (k *Simulator) gettimeofday(c *call) error {
	states := []*havoc.ExecutionState{c.state}
	if !c.isNull(1) {
		var err error
		if states, err = c.havocBuffer(states, 1, SizeofTimeval, "tv"); err != nil {
			return err
		}
	}
	if !c.isNull(2) {
		var err error
		if states, err = c.havocBuffer(states, 2, SizeofTimezone, "tz"); err != nil {
			return err
		}
	}
	c.retEach(states, c.word(0))
	return nil
}

func (k *Simulator) clockGettime(c *call) error {
	if _, ok := c.concrete(1, "clock"); !ok {
		return nil
	} else if c.isNull(2) {
		c.ret(c.word(-int64(EFAULT)))
		return nil
	}

	states, err := c.havocBuffer([]*havoc.ExecutionState{c.state}, 2, SizeofTimespec, "tp")
	if err != nil {
		return err
	}
	c.retEach(states, c.word(0))
	return nil
}
