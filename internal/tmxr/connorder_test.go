package tmxr

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestMux(n int) *Multiplexer {
	return New(n, "TestSim", "TD", nil, logrus.New())
}

func TestConnectOrderAllResetsToSequential(t *testing.T) {
	m := newTestMux(4)
	m.connectOrder = []int{3, 1}
	if err := m.SetConnectOrder("ALL"); err != nil {
		t.Fatalf("SetConnectOrder: %v", err)
	}
	if m.connectOrder != nil {
		t.Fatalf("ALL should reset to nil (sequential), got %v", m.connectOrder)
	}
}

func TestConnectOrderExplicitRangesAndSingles(t *testing.T) {
	m := newTestMux(8)
	if err := m.SetConnectOrder("5;2-4;7"); err != nil {
		t.Fatalf("SetConnectOrder: %v", err)
	}
	want := []int{5, 2, 3, 4, 7, 0, 1, 6}
	if !reflect.DeepEqual(m.connectOrder, want) {
		t.Fatalf("connectOrder = %v, want %v", m.connectOrder, want)
	}
}

func TestConnectOrderDuplicatesCollapse(t *testing.T) {
	m := newTestMux(3)
	if err := m.SetConnectOrder("1;1;0-2"); err != nil {
		t.Fatalf("SetConnectOrder: %v", err)
	}
	want := []int{1, 0, 2}
	if !reflect.DeepEqual(m.connectOrder, want) {
		t.Fatalf("connectOrder = %v, want %v", m.connectOrder, want)
	}
}

func TestConnectOrderOutOfBoundsRejected(t *testing.T) {
	m := newTestMux(2)
	if err := m.SetConnectOrder("0-5"); err == nil {
		t.Fatalf("expected error for out-of-bounds range")
	}
}

func TestConnectOrderFullSequentialSpecCollapsesToNil(t *testing.T) {
	m := newTestMux(3)
	if err := m.SetConnectOrder("0;1;2"); err != nil {
		t.Fatalf("SetConnectOrder: %v", err)
	}
	if m.connectOrder != nil {
		t.Fatalf("explicit-but-sequential spec should collapse to nil, got %v", m.connectOrder)
	}
}

func TestNextAcceptTargetSkipsBusyAndDisabled(t *testing.T) {
	m := newTestMux(3)
	m.Lines[0].conn = fakeConn{}
	m.Lines[1].SetEnabled(false)
	if got := m.nextAcceptTarget(); got != 2 {
		t.Fatalf("nextAcceptTarget = %d, want 2", got)
	}
}

func TestNextAcceptTargetHonorsExplicitOrder(t *testing.T) {
	m := newTestMux(3)
	if err := m.SetConnectOrder("2;0;1"); err != nil {
		t.Fatalf("SetConnectOrder: %v", err)
	}
	if got := m.nextAcceptTarget(); got != 2 {
		t.Fatalf("nextAcceptTarget = %d, want 2", got)
	}
	m.Lines[2].conn = fakeConn{}
	if got := m.nextAcceptTarget(); got != 0 {
		t.Fatalf("nextAcceptTarget = %d, want 0", got)
	}
}

func TestConfigureBufferedRange(t *testing.T) {
	m := newTestMux(1)
	if err := m.Configure("BUFFERED=0"); err == nil {
		t.Fatalf("expected error for BUFFERED size below minimum")
	}
	if err := m.Configure("BUFFERED=2000000"); err == nil {
		t.Fatalf("expected error for BUFFERED size above maximum")
	}
	if err := m.Configure("BUFFERED=1024"); err != nil {
		t.Fatalf("Configure BUFFERED=1024: %v", err)
	}
	enabled, size := m.Buffered()
	if !enabled || size != 1024 {
		t.Fatalf("Buffered() = %v,%d want true,1024", enabled, size)
	}
	if !m.Lines[0].tx.Buffered() {
		t.Fatalf("line tx ring should be switched to buffered mode")
	}
}

func TestConfigureNobufferedDisables(t *testing.T) {
	m := newTestMux(1)
	m.Configure("BUFFERED=512")
	if err := m.Configure("NOBUFFERED"); err != nil {
		t.Fatalf("Configure NOBUFFERED: %v", err)
	}
	enabled, _ := m.Buffered()
	if enabled {
		t.Fatalf("expected buffering disabled")
	}
}

func TestConfigureLogTemplate(t *testing.T) {
	m := newTestMux(1)
	if err := m.Configure("LOG=/var/log/line%LN%.log"); err != nil {
		t.Fatalf("Configure LOG=: %v", err)
	}
	if m.logTemplate != "/var/log/line%LN%.log" {
		t.Fatalf("logTemplate = %q", m.logTemplate)
	}
	if err := m.Configure("NOLOG"); err != nil {
		t.Fatalf("Configure NOLOG: %v", err)
	}
	if m.logTemplate != "" {
		t.Fatalf("logTemplate should be cleared by NOLOG")
	}
}

// fakeConn is a net.Conn stand-in used to mark a line as busy without
// opening a real socket.
type fakeConn struct{}

func (fakeConn) Read(b []byte) (int, error)  { return 0, nil }
func (fakeConn) Write(b []byte) (int, error) { return len(b), nil }
func (fakeConn) Close() error                { return nil }
func (fakeConn) LocalAddr() net.Addr         { return nil }
func (fakeConn) RemoteAddr() net.Addr        { return nil }
func (fakeConn) SetDeadline(t time.Time) error      { return nil }
func (fakeConn) SetReadDeadline(t time.Time) error   { return nil }
func (fakeConn) SetWriteDeadline(t time.Time) error  { return nil }
