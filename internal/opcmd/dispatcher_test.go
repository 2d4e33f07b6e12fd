package opcmd

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"tmxsim/internal/console"
	"tmxsim/internal/logfile"
	"tmxsim/internal/tmxr"
)

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	mux := tmxr.New(2, "Sim", "TD", &logfile.Registry{}, logrus.New())
	adapter := console.New(mux, console.NewNullConsole(), nil)
	return New(mux, adapter, &logfile.Registry{}, Radix8)
}

func TestSetWRUDecimalRejectedUnderOctalRadix(t *testing.T) {
	d := newDispatcher(t)
	if code := d.Set("WRU=9"); code != BadArg {
		t.Fatalf("Set(WRU=9) under radix 8 = %v, want BadArg (9 is not a valid octal digit)", code)
	}
}

func TestSetWRUOctal(t *testing.T) {
	d := newDispatcher(t)
	if code := d.Set("WRU=5"); code != OK {
		t.Fatalf("Set(WRU=5) = %v, want OK", code)
	}
	if got := d.Console.Keymap().Interrupt; got != 5 {
		t.Fatalf("Interrupt = %d, want 5", got)
	}
}

func TestSetWRUHexOverride(t *testing.T) {
	d := newDispatcher(t)
	if code := d.Set("WRU=0x1B"); code != OK {
		t.Fatalf("Set(WRU=0x1B) = %v, want OK", code)
	}
	if got := d.Console.Keymap().Interrupt; got != 0x1B {
		t.Fatalf("Interrupt = %#x, want 0x1b", got)
	}
}

func TestSetWRUZeroRejected(t *testing.T) {
	d := newDispatcher(t)
	if code := d.Set("WRU=0"); code != BadArg {
		t.Fatalf("Set(WRU=0) = %v, want BadArg", code)
	}
}

func TestSetPCharRejectsZeroMask(t *testing.T) {
	d := newDispatcher(t)
	if code := d.Set("PCHAR=0x0"); code != BadArg {
		t.Fatalf("Set(PCHAR=0x0) = %v, want BadArg", code)
	}
}

func TestSetTelnetPortZeroRejected(t *testing.T) {
	d := newDispatcher(t)
	if code := d.Set("TELNET=0"); code != BadArg {
		// port 0 is out of SET's 1..65535 range
		t.Fatalf("Set(TELNET=0) = %v, want BadArg", code)
	}
}

func TestSetTelnetBufferedThenUnbuffered(t *testing.T) {
	d := newDispatcher(t)
	if code := d.Set("TELNET BUFFERED=4096"); code != OK {
		t.Fatalf("Set(TELNET BUFFERED=4096) = %v, want OK", code)
	}
	enabled, size := d.Mux.Buffered()
	if !enabled || size != 4096 {
		t.Fatalf("Buffered() = %v,%d want true,4096", enabled, size)
	}
	if code := d.Set("TELNET UNBUFFERED"); code != OK {
		t.Fatalf("Set(TELNET UNBUFFERED) = %v, want OK", code)
	}
	enabled, _ = d.Mux.Buffered()
	if enabled {
		t.Fatalf("expected buffering disabled")
	}
}

func TestSetLogBindsSimulatorLog(t *testing.T) {
	d := newDispatcher(t)
	path := filepath.Join(t.TempDir(), "sim.log")
	if code := d.Set("LOG=" + path); code != OK {
		t.Fatalf("Set(LOG=...) = %v, want OK", code)
	}
	if code := d.Set("NOLOG"); code != OK {
		t.Fatalf("Set(NOLOG) = %v, want OK", code)
	}
}

func TestSetUnknownTokenIsNoSuchParam(t *testing.T) {
	d := newDispatcher(t)
	if code := d.Set("BOGUS=1"); code != NoSuchParam {
		t.Fatalf("Set(BOGUS=1) = %v, want NoSuchParam", code)
	}
}

func TestSetNoArgsIsTooFewArgs(t *testing.T) {
	d := newDispatcher(t)
	if code := d.Set(""); code != TooFewArgs {
		t.Fatalf("Set(\"\") = %v, want TooFewArgs", code)
	}
}

func TestShowReportsConsoleWindowWhenNoTelnet(t *testing.T) {
	d := newDispatcher(t)
	out := d.Show()
	if !strings.Contains(out, "Connected to console window") {
		t.Fatalf("Show() = %q, want it to report the console window", out)
	}
}
