package tmxr

import (
	"net"
	"strconv"
	"time"

	"tmxsim/internal/logfile"
	"tmxsim/internal/ring"
	"tmxsim/internal/telnet"
)

// guardSlots is the small reserved slack in an unbuffered tx ring that,
// once crossed, disables the producer until poll_tx has drained enough to
// re-open headroom (spec §4.2, Glossary "Guard").
const guardSlots = 8

// PutResult is the outcome of Line.PutChar, mirroring spec §4.2's
// ok|lost|stall contract.
type PutResult int

const (
	PutOK PutResult = iota
	PutLost
	PutStall
)

func (r PutResult) String() string {
	switch r {
	case PutOK:
		return "ok"
	case PutLost:
		return "lost"
	case PutStall:
		return "stall"
	default:
		return "unknown"
	}
}

// Line is one virtual serial line: a connection socket (or none), its rx/tx
// rings, Telnet filter state, and statistics (spec §3 TelnetLine).
//
// Per spec §5, a non-console Line is assumed to be driven from a single
// scheduling context (the simulator's poll loop); it carries no internal
// lock. The console's line 0 is the exception, and the exclusion lock for
// it lives in internal/console, not here.
type Line struct {
	Index  int
	parent *Multiplexer

	conn        net.Conn
	peerAddr    uint32
	connectTime time.Time

	rx      *ring.Buffer
	rxBreak *ring.Buffer // parallel ring of 0/1 bytes, advanced in lockstep with rx
	tx      *ring.Buffer

	rxEnable bool
	txEnable bool
	enabled  bool // administrative enable/disable, independent of connection state

	dontStripBinary bool
	filter          telnet.Filter

	// pendingPrelude holds the mantra + greeting bytes queued on accept.
	// PollTX drains this before touching the tx ring, so a buffered line's
	// pre-existing backlog is replayed strictly after the greeting even
	// though it was already sitting in the ring before the client
	// reconnected (see SPEC_FULL.md §13, first Open Question).
	pendingPrelude []byte

	rxCount  uint64
	txCount  uint64
	txDrops  uint64

	txLog *logfile.Ref

	label string
}

func newLine(index int, parent *Multiplexer, rxSize, txSize int) *Line {
	return &Line{
		Index:    index,
		parent:   parent,
		rx:       ring.New(rxSize),
		rxBreak:  ring.New(rxSize),
		tx:       ring.New(txSize),
		rxEnable: true,
		txEnable: true,
		enabled:  true,
		label:    defaultLabel(index),
	}
}

func defaultLabel(index int) string {
	return "line " + strconv.Itoa(index)
}

// Label returns the name used to prefix this line's log messages — device
// name formatting is out of scope (spec §9), but the plain "line N" form
// the multiplexer falls back to is enough for the debug tap.
func (l *Line) Label() string {
	return l.label
}

// SetLabel overrides the default "line N" label, e.g. to something that
// includes the embedding simulator's device name.
func (l *Line) SetLabel(label string) {
	l.label = label
}

// Connected reports whether a client socket is currently attached.
func (l *Line) Connected() bool {
	return l.conn != nil
}

// Enabled reports whether this line is administratively eligible to
// receive a new connection (spec §11 supplemented feature: admin
// enable/disable independent of connection state).
func (l *Line) Enabled() bool {
	return l.enabled
}

// SetEnabled toggles administrative eligibility. Disabling a line does not
// drop an already-connected client; it only removes the line from
// PollConn's target scan.
func (l *Line) SetEnabled(enabled bool) {
	l.enabled = enabled
}

// PeerAddr returns the connected client's IPv4 address as a 32-bit value,
// or 0 if no client is connected.
func (l *Line) PeerAddr() uint32 {
	return l.peerAddr
}

// ConnectTime returns the wall-clock time the current client connected.
func (l *Line) ConnectTime() time.Time {
	return l.connectTime
}

// Stats returns the rx/tx/drop counters (spec §3).
func (l *Line) Stats() (rx, tx, drops uint64) {
	return l.rxCount, l.txCount, l.txDrops
}

// SetTxBuffered switches this line's tx ring into or out of buffered mode,
// resizing it to size when entering buffered mode (spec §3 invariant:
// "if tx_buffered_mode==true, tx_ring.size == multiplexer.buffered_size").
// Leaving buffered mode drops any retained backlog and returns the ring to
// plain unbuffered capacity.
func (l *Line) SetTxBuffered(buffered bool, size int) {
	if buffered {
		l.tx.Resize(size)
		l.tx.SetBuffered(true)
		return
	}
	l.tx.SetBuffered(false)
	l.tx.Resize(size)
}

// SetLog attaches (or, if ref is nil, detaches) this line's transcript
// sink. The previous ref, if any, is released.
func (l *Line) SetLog(ref *logfile.Ref) {
	if l.txLog != nil {
		l.txLog.Close()
	}
	l.txLog = ref
}

// HasLog reports whether a transcript sink is currently attached.
func (l *Line) HasLog() bool {
	return l.txLog != nil
}

// GetChar returns the next already-filtered received byte, along with
// whether it carries a BREAK marker (spec §4.2). valid is false when no
// byte is available — because no client is connected, rx is disabled, or
// the rx ring is simply empty.
func (l *Line) GetChar() (c byte, valid bool, brk bool) {
	if l.conn == nil || !l.rxEnable {
		return 0, false, false
	}
	c, ok := l.rx.Take()
	if !ok {
		return 0, false, false
	}
	flag, _ := l.rxBreak.Take()
	return c, true, flag == 1
}

// PutChar writes one byte to this line's tx ring (spec §4.2). Per
// SPEC_FULL.md §13's second Open Question, PutChar never polls transmit
// itself: a caller that receives PutStall must call Multiplexer.PollTX
// between retries, or it will livelock waiting for headroom that nothing
// is draining.
func (l *Line) PutChar(c byte) PutResult {
	if l.txLog != nil {
		l.txLog.Write(c)
	}

	if l.conn == nil && !l.tx.Buffered() {
		if l.txLog != nil {
			return PutOK
		}
		l.txDrops++
		return PutLost
	}

	need := 1
	if c == telnet.IAC {
		need = 2
	}

	if l.tx.Buffered() {
		evictedAny := false
		for i := 0; i < need; i++ {
			_, evicted := l.tx.Put(c)
			evictedAny = evictedAny || evicted
		}
		if evictedAny {
			l.txDrops++
		}
		l.txCount++
		return PutOK
	}

	if l.tx.Available() < need {
		l.txDrops++
		l.logDebug(DebugRET, "put_char stall on %d", c)
		return PutStall
	}
	for i := 0; i < need; i++ {
		l.tx.Put(c)
	}
	l.txCount++
	if l.tx.Available() < guardSlots {
		l.txEnable = false
	}
	return PutOK
}

// reset returns the line to its post-construction form: log flushed,
// socket closed, rx always cleared, tx cleared only when not buffered
// (spec §4.2 Line.reset, §3 invariant on tx_drops monotonicity — which is
// why tx_drops is never zeroed here; tx_count is zeroed only when not
// buffered).
func (l *Line) reset() {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.rx.Reset()
	l.rxBreak.Reset()
	l.filter.Reset()
	l.rxCount = 0
	l.pendingPrelude = nil
	l.dontStripBinary = false
	l.peerAddr = 0
	l.connectTime = time.Time{}
	l.rxEnable = true
	l.txEnable = true

	if !l.tx.Buffered() {
		l.tx.Reset()
		l.txCount = 0
	}
}

// logDebug routes a formatted message through the parent multiplexer's
// injected logger, tagged with this line's label, when the requested
// category is enabled in the multiplexer's debug mask.
func (l *Line) logDebug(flag DebugFlags, format string, args ...interface{}) {
	if l.parent == nil || l.parent.log == nil {
		return
	}
	if l.parent.debugFlags&flag == 0 {
		return
	}
	l.parent.log.WithField("line", l.label).Debugf(format, args...)
}

