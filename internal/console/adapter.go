package console

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tmxsim/internal/logfile"
	"tmxsim/internal/tmxr"
)

// Adapter is the ConsoleAdapter of spec §4.5: it binds poll_kbd/put_char
// to either the operator's local terminal or line 0 of a Telnet
// multiplexer, depending on whether a master listener is open. The
// exclusion lock it carries is the "console lock" of spec §5 — line 0 is
// reachable from both the command interpreter and the simulated CPU's
// service thread, so every operation here is serialized.
type Adapter struct {
	mu sync.Mutex

	mux   *tmxr.Multiplexer
	local LocalConsole
	km    Keymap

	simLog *logfile.Ref
	log    logrus.FieldLogger
}

// New binds an adapter to a multiplexer (whose line 0 is reserved for
// console use) and a local-terminal fallback.
func New(mux *tmxr.Multiplexer, local LocalConsole, log logrus.FieldLogger) *Adapter {
	return &Adapter{
		mux:   mux,
		local: local,
		km:    NewKeymap(),
		log:   log,
	}
}

// Keymap returns a copy of the current keyboard/display settings.
func (a *Adapter) Keymap() Keymap {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.km
}

// SetKeymap installs new keyboard/display settings (e.g. from SET CONSOLE
// WRU/BRK/DEL/PCHAR).
func (a *Adapter) SetKeymap(km Keymap) {
	a.mu.Lock()
	a.km = km
	a.mu.Unlock()
}

// SetSimLog attaches the process-wide simulator log that every console
// byte is mirrored to when the console line itself has no dedicated
// transcript (spec §4.5 put_char binding).
func (a *Adapter) SetSimLog(ref *logfile.Ref) {
	a.mu.Lock()
	a.simLog = ref
	a.mu.Unlock()
}

func (a *Adapter) consoleLine() *tmxr.Line {
	if a.mux == nil || len(a.mux.Lines) == 0 {
		return nil
	}
	return a.mux.Lines[0]
}

func (a *Adapter) telnetOpen() bool {
	return a.mux != nil && a.mux.Port() != 0
}

// PollKbd implements spec §4.5's poll_kbd: local-terminal passthrough when
// no Telnet master is open, otherwise the connect/backlog/get_char
// sequence against line 0.
func (a *Adapter) PollKbd() (c byte, result KeyResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.telnetOpen() {
		raw, ok := a.local.PollKey()
		if !ok {
			return 0, KeyEmpty
		}
		res, out := a.km.Classify(raw)
		if res == KeyChar {
			out = a.km.ApplyKSRInput(out)
		}
		return out, res
	}

	line := a.consoleLine()
	buffered, _ := a.mux.Buffered()
	if !line.Connected() {
		if !buffered {
			return 0, KeyLost
		}
		a.mux.PollConn()
		return 0, KeyEmpty
	}

	a.mux.PollRX()
	raw, valid, brk := line.GetChar()
	if !valid {
		return 0, KeyEmpty
	}
	if brk {
		if a.log != nil {
			a.log.Debug("console: BREAK received")
		}
		return 0, KeyBreak
	}
	res, out := a.km.Classify(raw)
	if res == KeyChar {
		out = a.km.ApplyKSRInput(out)
	}
	return out, res
}

// PutChar implements spec §4.5's put_char: mirror to the simulator log,
// opportunistically accept a pending connection on a buffered but
// unconnected console line, write the byte, then flush.
func (a *Adapter) PutChar(c byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	line := a.consoleLine()
	if line != nil && a.simLog != nil && !line.HasLog() {
		a.simLog.Write(c)
	}

	if !a.telnetOpen() {
		out, drop := a.km.ConvertOutput(c)
		if drop {
			return nil
		}
		return a.local.WriteChar(out)
	}

	buffered, _ := a.mux.Buffered()
	if !line.Connected() && buffered {
		a.mux.PollConn()
	}

	out, drop := a.km.ConvertOutput(c)
	if !drop {
		line.PutChar(out)
	}
	a.mux.PollTX()
	return nil
}

// CheckConsole is the check_console preflight of spec §4.5: if the
// console line is buffered or already connected, return immediately;
// otherwise poll for an incoming connection once a second, printing a
// waiting message every ten seconds, until timeoutSeconds elapses or
// stopRequested reports true or the operator sends the interrupt
// character from the local terminal.
func (a *Adapter) CheckConsole(timeoutSeconds int, stopRequested func() bool) KeyResult {
	if !a.telnetOpen() {
		return KeyChar
	}

	a.mu.Lock()
	line := a.consoleLine()
	buffered, _ := a.mux.Buffered()
	ready := buffered || line.Connected()
	a.mu.Unlock()
	if ready {
		return KeyChar
	}

	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	lastNotice := time.Now()
	fmt.Println("Waiting for console Telnet connection")

	for time.Now().Before(deadline) {
		if stopRequested != nil && stopRequested() {
			return KeyStop
		}

		a.mu.Lock()
		a.mux.PollConn()
		connected := line.Connected()
		a.mu.Unlock()
		if connected {
			return KeyChar
		}

		if raw, ok := a.local.PollKey(); ok {
			if res, _ := a.km.Classify(raw); res == KeyStop {
				return KeyStop
			}
		}

		if time.Since(lastNotice) >= 10*time.Second {
			fmt.Println("Waiting for console Telnet connection")
			lastNotice = time.Now()
		}
		time.Sleep(time.Second)
	}
	if a.log != nil {
		a.log.Warn("console: timed out waiting for Telnet connection")
	}
	return KeyLost
}
