//go:build !windows

package console

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// posixConsole drives the operator's stdin/stdout directly, grounded on
// the raw-mode + non-blocking-read pattern used for interactive host
// input (see terminal_host.go in the reference pack). Unlike that
// goroutine-driven reader, PollKey here performs one direct non-blocking
// read per call so it fits the cooperative poll_conn/poll_rx/poll_tx
// scheduling model (spec §5).
type posixConsole struct {
	fd          int
	nonblockSet bool
	oldState    *term.State
	isTTY       bool
}

// NewPosixConsole builds a LocalConsole bound to the process's stdin/stdout.
func NewPosixConsole() LocalConsole {
	return &posixConsole{fd: int(os.Stdin.Fd())}
}

func (c *posixConsole) Init() error {
	c.isTTY = term.IsTerminal(c.fd)
	return nil
}

func (c *posixConsole) IsTTY() bool { return c.isTTY }

func (c *posixConsole) EnterRaw() error {
	if !c.isTTY {
		return nil
	}
	old, err := term.MakeRaw(c.fd)
	if err != nil {
		return err
	}
	c.oldState = old
	if err := unix.SetNonblock(c.fd, true); err != nil {
		_ = term.Restore(c.fd, c.oldState)
		c.oldState = nil
		return err
	}
	c.nonblockSet = true
	return nil
}

func (c *posixConsole) LeaveRaw() error {
	if c.nonblockSet {
		_ = unix.SetNonblock(c.fd, false)
		c.nonblockSet = false
	}
	if c.oldState != nil {
		err := term.Restore(c.fd, c.oldState)
		c.oldState = nil
		return err
	}
	return nil
}

// PollKey performs one non-blocking read of stdin. EAGAIN/EWOULDBLOCK is
// the normal "nothing waiting" outcome, matching the socket-side
// EWOULDBLOCK poll convention (spec §5).
func (c *posixConsole) PollKey() (byte, bool) {
	if !c.isTTY {
		return 0, false
	}
	var buf [1]byte
	n, err := syscall.Read(c.fd, buf[:])
	if n <= 0 {
		return 0, false
	}
	_ = err
	return buf[0], true
}

func (c *posixConsole) WriteChar(c2 byte) error {
	_, err := os.Stdout.Write([]byte{c2})
	return err
}

func (c *posixConsole) Close() error {
	return c.LeaveRaw()
}
