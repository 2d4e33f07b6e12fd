package tmxr

import (
	"testing"

	"tmxsim/internal/telnet"
)

func TestPutCharLostWhenDisconnectedUnbuffered(t *testing.T) {
	l := newLine(0, nil, 16, 4)
	if got := l.PutChar('x'); got != PutLost {
		t.Fatalf("PutChar on disconnected unbuffered line = %v, want PutLost", got)
	}
	if _, _, drops := l.Stats(); drops != 1 {
		t.Fatalf("txDrops = %d, want 1", drops)
	}
}

func TestPutCharStallWhenRingNearlyFull(t *testing.T) {
	l := newLine(0, nil, 16, 4)
	l.conn = fakeConn{}
	// capacity 4, 1 reserved slot => 3 usable
	for i := 0; i < 3; i++ {
		if got := l.PutChar(byte('a' + i)); got != PutOK {
			t.Fatalf("PutChar %d = %v, want PutOK", i, got)
		}
	}
	if got := l.PutChar('z'); got != PutStall {
		t.Fatalf("PutChar on full ring = %v, want PutStall", got)
	}
}

func TestPutCharDoublesIAC(t *testing.T) {
	l := newLine(0, nil, 16, 8)
	l.conn = fakeConn{}
	if got := l.PutChar(telnet.IAC); got != PutOK {
		t.Fatalf("PutChar(IAC) = %v, want PutOK", got)
	}
	seg := l.tx.ContiguousTakeSlice()
	if len(seg) != 2 || seg[0] != telnet.IAC || seg[1] != telnet.IAC {
		t.Fatalf("tx ring after PutChar(IAC) = %v, want two IAC bytes", seg)
	}
}

func TestPutCharBufferedNeverStalls(t *testing.T) {
	l := newLine(0, nil, 16, 4)
	l.conn = fakeConn{}
	l.SetTxBuffered(true, 4)
	for i := 0; i < 10; i++ {
		if got := l.PutChar(byte(i)); got != PutOK {
			t.Fatalf("buffered PutChar %d = %v, want PutOK", i, got)
		}
	}
	if _, _, drops := l.Stats(); drops == 0 {
		t.Fatalf("expected evictions to be counted as drops in buffered mode")
	}
}

func TestGetCharReportsBreakFlag(t *testing.T) {
	l := newLine(0, nil, 16, 4)
	l.conn = fakeConn{}
	l.rx.Put('A')
	l.rxBreak.Put(0)
	l.rx.Put('B')
	l.rxBreak.Put(1)

	c, valid, brk := l.GetChar()
	if !valid || c != 'A' || brk {
		t.Fatalf("GetChar 1 = %q,%v,%v want A,true,false", c, valid, brk)
	}
	c, valid, brk = l.GetChar()
	if !valid || c != 'B' || !brk {
		t.Fatalf("GetChar 2 = %q,%v,%v want B,true,true", c, valid, brk)
	}
	if _, valid, _ := l.GetChar(); valid {
		t.Fatalf("GetChar on empty ring should report invalid")
	}
}

func TestResetPreservesTxDropsAndBufferedBacklog(t *testing.T) {
	l := newLine(0, nil, 16, 4)
	l.conn = fakeConn{}
	l.SetTxBuffered(true, 4)
	for i := 0; i < 6; i++ {
		l.PutChar(byte(i))
	}
	_, _, dropsBefore := l.Stats()
	backlogBefore := l.tx.Used()

	l.reset()

	_, _, dropsAfter := l.Stats()
	if dropsAfter != dropsBefore {
		t.Fatalf("txDrops changed across reset: %d -> %d", dropsBefore, dropsAfter)
	}
	if l.tx.Used() != backlogBefore {
		t.Fatalf("buffered backlog should survive reset: before=%d after=%d", backlogBefore, l.tx.Used())
	}
	if l.Connected() {
		t.Fatalf("reset should clear the connection")
	}
}

func TestResetClearsUnbufferedTx(t *testing.T) {
	l := newLine(0, nil, 16, 4)
	l.conn = fakeConn{}
	l.PutChar('x')
	l.reset()
	if l.tx.Used() != 0 {
		t.Fatalf("unbuffered tx backlog should be cleared by reset")
	}
}
