// Package tmxr implements the multiplexer core: per-line ring-buffered
// Telnet transport (Line) and the listening-socket acceptor/dispatcher
// that owns a pool of them (Multiplexer). It is the Go port of spec §4.2
// and §4.4, grounded on the teacher's sol.Manager/sol.Session lifecycle
// shape and on original_source/src/sim_tmxr.cpp's wire semantics.
package tmxr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tmxsim/internal/logfile"
	"tmxsim/internal/telnet"
)

// DebugFlags selects which category of multiplexer activity is mirrored to
// the injected logger (spec §9 design note on the debug tap, expanded in
// SPEC_FULL.md §11 from the original's TMXR_DBG_* bits).
type DebugFlags uint8

const (
	DebugXMT DebugFlags = 1 << iota // transmitted bytes
	DebugRCV                        // received bytes
	DebugRET                        // line-level return codes
	DebugASY                        // asynchronous/background activity
	DebugCON                        // connect/disconnect transitions
	DebugTRC                        // Telnet option trace
)

const (
	defaultRxRingSize     = 1024
	defaultTxRingSize     = 1024
	defaultBufferedSize   = 32768
	minBufferedSize       = 1
	maxBufferedSize       = 1048576
	defaultBusyMessage    = "All connections busy\r\n"

	// pollDeadline bounds each accept/read/write attempt. A deadline of
	// exactly time.Now() has already expired, so net fails the call
	// before trying the socket at all.
	pollDeadline = time.Millisecond
)

// Transition records one connect/disconnect event, kept for the operator
// dashboard (SPEC_FULL.md §11 "Connection audit trail" enrichment).
type Transition struct {
	Time      time.Time
	Connected bool
	PeerAddr  uint32
}

// Multiplexer owns a fixed pool of Lines, an optional listening socket, and
// the shared configuration that governs how new connections are routed and
// how transmit buffering behaves (spec §3 Multiplexer).
type Multiplexer struct {
	Lines []*Line

	SimName    string
	DeviceName string
	Mantra     telnet.Mantra
	BusyMessage string

	master *net.TCPListener
	port   int

	bufferedSize int // 0 means disabled
	connectOrder []int

	registry    *logfile.Registry
	logTemplate string

	debugFlags DebugFlags
	log        logrus.FieldLogger

	transitions map[int][]Transition

	tap func(index int, data []byte)
}

// SetTap installs an observer called with every run of freshly filtered
// received bytes for every line, for read-only consumers such as a
// dashboard's live-follow view (spec §11 supplemented feature). It never
// affects what GetChar later returns; the tap sees a copy.
func (m *Multiplexer) SetTap(fn func(index int, data []byte)) {
	m.tap = fn
}

// New builds a multiplexer with n lines, all initially unconnected and
// unbuffered. registry is stored with the multiplexer; Configure's LOG=
// token only records a log template, and no per-line log is opened from
// it or from registry. log receives structured diagnostics gated by
// DebugFlags.
func New(n int, simName, deviceName string, registry *logfile.Registry, log logrus.FieldLogger) *Multiplexer {
	m := &Multiplexer{
		SimName:     simName,
		DeviceName:  deviceName,
		Mantra:      telnet.DefaultMantra,
		BusyMessage: defaultBusyMessage,
		registry:    registry,
		log:         log,
		transitions: make(map[int][]Transition),
	}
	m.Lines = make([]*Line, n)
	for i := range m.Lines {
		m.Lines[i] = newLine(i, m, defaultRxRingSize, defaultTxRingSize)
	}
	return m
}

// SetDebugFlags replaces the active debug mask.
func (m *Multiplexer) SetDebugFlags(flags DebugFlags) {
	m.debugFlags = flags
}

// Port returns the currently bound listening port, or 0 if no master
// socket is open.
func (m *Multiplexer) Port() int {
	return m.port
}

// recordTransition appends to a line's audit trail, keeping only the most
// recent 20 entries.
func (m *Multiplexer) recordTransition(index int, connected bool, peer uint32) {
	const keep = 20
	hist := append(m.transitions[index], Transition{Time: time.Now(), Connected: connected, PeerAddr: peer})
	if len(hist) > keep {
		hist = hist[len(hist)-keep:]
	}
	m.transitions[index] = hist
}

// Transitions returns the recorded connect/disconnect audit trail for one
// line, oldest first.
func (m *Multiplexer) Transitions(index int) []Transition {
	return m.transitions[index]
}

// Configure applies one operator-surface token from spec §6: a decimal
// port number (opens the listener), or one of LOG=<path>, BUFFERED[=size],
// NOBUFFERED/UNBUFFERED, NOLOG. Options mutate state without reopening an
// already-open socket.
func (m *Multiplexer) Configure(spec string) error {
	switch {
	case spec == "NOBUFFERED" || spec == "UNBUFFERED":
		m.setBuffered(0)
		return nil
	case spec == "NOLOG":
		m.logTemplate = ""
		return nil
	case strings.HasPrefix(spec, "LOG="):
		path := strings.TrimPrefix(spec, "LOG=")
		if path == "" {
			return fmt.Errorf("%w: LOG= requires a path or template", ErrBadArg)
		}
		m.logTemplate = path
		return nil
	case spec == "BUFFERED" || strings.HasPrefix(spec, "BUFFERED="):
		size := defaultBufferedSize
		if strings.HasPrefix(spec, "BUFFERED=") {
			v, err := strconv.Atoi(strings.TrimPrefix(spec, "BUFFERED="))
			if err != nil {
				return fmt.Errorf("%w: bad BUFFERED size %q", ErrBadArg, spec)
			}
			size = v
		}
		if size < minBufferedSize || size > maxBufferedSize {
			return fmt.Errorf("%w: BUFFERED size %d out of range [%d,%d]", ErrBadArg, size, minBufferedSize, maxBufferedSize)
		}
		m.setBuffered(size)
		return nil
	default:
		port, err := strconv.Atoi(spec)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrBadArg, spec)
		}
		return m.openMaster(port)
	}
}

func (m *Multiplexer) setBuffered(size int) {
	m.bufferedSize = size
	for _, l := range m.Lines {
		if size == 0 {
			l.SetTxBuffered(false, defaultTxRingSize)
		} else {
			l.SetTxBuffered(true, size)
		}
	}
}

// Buffered reports whether background buffering is currently enabled, and
// if so, the configured size.
func (m *Multiplexer) Buffered() (enabled bool, size int) {
	return m.bufferedSize > 0, m.bufferedSize
}

func (m *Multiplexer) openMaster(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrBadArg, port)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOpen, err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return fmt.Errorf("%w: listener is not TCP", ErrOpen)
	}
	if m.master != nil {
		m.master.Close()
	}
	m.master = tcpLn
	m.port = port
	return nil
}

// CloseMaster writes a farewell to every connected line, resets every
// line, and closes the listening socket (spec §4.4 close_master).
func (m *Multiplexer) CloseMaster() {
	for _, l := range m.Lines {
		if l.Connected() {
			m.linemsg(l, "\r\nDisconnected from the "+m.SimName+" simulator\r\n\n")
			m.PollTX()
		}
		l.reset()
	}
	if m.master != nil {
		m.master.Close()
		m.master = nil
	}
	m.port = 0
}

// SetConnectOrder parses spec §6's semicolon-separated range grammar (e.g.
// "1;5;2-4;7"); "ALL", or any spec whose resulting order is plain 0..N-1
// (such as one range covering every line), selects sequential scanning.
// Lines left unmentioned are appended in ascending order.
func (m *Multiplexer) SetConnectOrder(spec string) error {
	n := len(m.Lines)
	if strings.EqualFold(spec, "ALL") {
		m.connectOrder = nil
		return nil
	}

	seen := make([]bool, n)
	var order []int
	for _, tok := range strings.Split(spec, ";") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		low, high, err := parseRange(tok)
		if err != nil {
			return err
		}
		if low < 0 || high >= n || low > high {
			return fmt.Errorf("%w: range %q out of bounds for %d lines", ErrBadArg, tok, n)
		}
		for i := low; i <= high; i++ {
			if !seen[i] {
				seen[i] = true
				order = append(order, i)
			}
		}
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			order = append(order, i)
		}
	}
	if len(order) == n {
		sequential := true
		for i, v := range order {
			if v != i {
				sequential = false
				break
			}
		}
		if sequential {
			m.connectOrder = nil
			return nil
		}
	}
	m.connectOrder = order
	return nil
}

func parseRange(tok string) (low, high int, err error) {
	if i := strings.IndexByte(tok, '-'); i >= 0 {
		low, err = strconv.Atoi(tok[:i])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q", ErrBadArg, tok)
		}
		high, err = strconv.Atoi(tok[i+1:])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q", ErrBadArg, tok)
		}
		return low, high, nil
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadArg, tok)
	}
	return v, v, nil
}

// nextAcceptTarget picks the line index PollConn should route the next
// connection to, per the connect-order policy (spec §4.4 step 1): nil
// order means sequential 0..N-1; an explicit order is scanned in listed
// order, each entry skipped if that line is already busy or disabled.
func (m *Multiplexer) nextAcceptTarget() int {
	order := m.connectOrder
	if order == nil {
		for i, l := range m.Lines {
			if l.Enabled() && !l.Connected() {
				return i
			}
		}
		return -1
	}
	for _, i := range order {
		if i < 0 || i >= len(m.Lines) {
			continue
		}
		l := m.Lines[i]
		if l.Enabled() && !l.Connected() {
			return i
		}
	}
	return -1
}

// PollConn performs one non-blocking accept attempt on the master socket
// (spec §4.4 poll_conn). It returns the index of the line a new connection
// was routed to, or -1 if there was no pending connection, every line was
// busy, or no master socket is open.
func (m *Multiplexer) PollConn() int {
	if m.master == nil {
		return -1
	}
	m.master.SetDeadline(time.Now().Add(pollDeadline))
	conn, err := m.master.Accept()
	if err != nil {
		return -1
	}

	idx := m.nextAcceptTarget()
	if idx < 0 {
		conn.Write([]byte(m.BusyMessage))
		conn.Close()
		return -1
	}

	line := m.Lines[idx]
	line.conn = conn
	line.peerAddr = peerAddrOf(conn)
	line.connectTime = time.Now()
	line.rxEnable = true
	line.txEnable = true

	var prelude []byte
	prelude = append(prelude, m.Mantra...)
	prelude = append(prelude, []byte(m.greeting(idx))...)
	line.pendingPrelude = prelude

	m.recordTransition(idx, true, line.peerAddr)
	line.logDebug(DebugCON, "connected from %s", conn.RemoteAddr())

	m.pollTXLine(line)

	return idx
}

func (m *Multiplexer) greeting(index int) string {
	device := m.DeviceName
	if len(m.Lines) > 1 {
		device += ", line " + strconv.Itoa(index)
	}
	return "\n\r\nConnected to the " + m.SimName + " simulator " + device + "\r\n\n"
}

// linemsg queues a literal control message to a line ahead of its tx ring,
// the same mechanism used for the accept greeting.
func (m *Multiplexer) linemsg(l *Line, msg string) {
	l.pendingPrelude = append(l.pendingPrelude, []byte(msg)...)
}

func peerAddrOf(conn net.Conn) uint32 {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		return 0
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

// PollRX reads from every connected, rx-enabled line's socket and runs the
// Telnet filter over whatever was just appended (spec §4.4 poll_rx).
func (m *Multiplexer) PollRX() {
	for _, l := range m.Lines {
		m.pollRXLine(l)
	}
}

func (m *Multiplexer) pollRXLine(l *Line) {
	if l.conn == nil || !l.rxEnable {
		return
	}
	if !l.rx.Empty() && !l.filter.Pending() {
		return
	}

	free := l.rx.ContiguousPutSlice()
	if len(free) == 0 {
		return
	}
	breakFree := l.rxBreak.ContiguousPutSlice()
	if len(breakFree) < len(free) {
		free = free[:len(breakFree)]
	}

	setReadDeadlineNow(l.conn)
	n, err := l.conn.Read(free)
	if n <= 0 {
		if err != nil && !isTimeout(err) {
			m.resetLine(l)
		}
		return
	}

	breakFlags := make([]bool, n)
	stripBefore := l.dontStripBinary
	kept := l.filter.Run(free[:n], breakFlags, &l.dontStripBinary)
	if l.dontStripBinary != stripBefore {
		l.logDebug(DebugTRC, "binary mode negotiated: strip=%v", !l.dontStripBinary)
	}
	for i := 0; i < kept; i++ {
		if breakFlags[i] {
			breakFree[i] = 1
		} else {
			breakFree[i] = 0
		}
	}
	l.rx.Advance(kept)
	l.rxBreak.Advance(kept)
	l.rxCount += uint64(kept)

	if l.rx.Empty() {
		l.rx.Reset()
		l.rxBreak.Reset()
	}

	if kept > 0 {
		l.logDebug(DebugRCV, "received %d bytes", kept)
		if m.tap != nil {
			m.tap(l.Index, append([]byte(nil), free[:kept]...))
		}
	}
}

// PollTX drains every connected line's tx ring (and pending prelude) to its
// socket using at most two writes per line: the pre-wrap segment and the
// wrapped remainder (spec §4.4 poll_tx). It never blocks; a partial write
// leaves the residue queued for the next call.
func (m *Multiplexer) PollTX() {
	for _, l := range m.Lines {
		m.pollTXLine(l)
	}
}

func (m *Multiplexer) pollTXLine(l *Line) {
	if l.conn == nil {
		return
	}
	l.conn.SetWriteDeadline(time.Now().Add(pollDeadline))

	if len(l.pendingPrelude) > 0 {
		n, err := l.conn.Write(l.pendingPrelude)
		if n > 0 {
			l.pendingPrelude = l.pendingPrelude[n:]
		}
		if err != nil && !isTimeout(err) {
			m.resetLine(l)
			return
		}
		if len(l.pendingPrelude) > 0 {
			return
		}
	}

	for writes := 0; writes < 2; writes++ {
		seg := l.tx.ContiguousTakeSlice()
		if len(seg) == 0 {
			break
		}
		n, err := l.conn.Write(seg)
		if n > 0 {
			l.tx.Skip(n)
			l.logDebug(DebugXMT, "transmitted %d bytes", n)
		}
		if err != nil {
			if !isTimeout(err) {
				m.resetLine(l)
			}
			return
		}
		if n < len(seg) {
			// short write: socket buffer is full, stop for this poll.
			return
		}
	}

	if l.tx.Empty() {
		l.txEnable = true
	}
}

func (m *Multiplexer) resetLine(l *Line) {
	wasConnected := l.Connected()
	peer := l.peerAddr
	l.reset()
	if wasConnected {
		m.recordTransition(l.Index, false, peer)
		l.logDebug(DebugCON, "connection closed")
	}
}

func setReadDeadlineNow(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(pollDeadline))
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
