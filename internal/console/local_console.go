package console

// LocalConsole is the operator terminal binding used when no Telnet master
// is open (spec §4.5). Implementations must never block: PollKey is called
// from the simulator's poll loop and must return immediately.
type LocalConsole interface {
	Init() error
	EnterRaw() error
	LeaveRaw() error
	IsTTY() bool
	// PollKey returns one pending input byte, or ok=false if none is
	// waiting.
	PollKey() (c byte, ok bool)
	WriteChar(c byte) error
	Close() error
}

// nullConsole is the LocalConsole used when stdin/stdout are not a
// terminal (e.g. under a service manager or in tests): every operation is
// a harmless no-op.
type nullConsole struct{}

// NewNullConsole returns a LocalConsole that never produces input and
// discards output, for headless operation.
func NewNullConsole() LocalConsole { return nullConsole{} }

func (nullConsole) Init() error                { return nil }
func (nullConsole) EnterRaw() error            { return nil }
func (nullConsole) LeaveRaw() error            { return nil }
func (nullConsole) IsTTY() bool                { return false }
func (nullConsole) PollKey() (byte, bool)      { return 0, false }
func (nullConsole) WriteChar(c byte) error     { return nil }
func (nullConsole) Close() error               { return nil }
