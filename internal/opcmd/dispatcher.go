// Package opcmd is the thin SET/SHOW CONSOLE token dispatcher of spec §6:
// it owns no state of its own, only the mapping from the operator command
// surface onto the console/tmxr/logfile APIs.
package opcmd

import (
	"fmt"
	"strconv"
	"strings"

	"tmxsim/internal/console"
	"tmxsim/internal/logfile"
	"tmxsim/internal/tmxr"
)

// ExitCode mirrors spec §6's command-interpreter result codes.
type ExitCode int

const (
	OK ExitCode = iota
	TooFewArgs
	TooManyArgs
	BadArg
	NoSuchParam
	OpenErr
	Mem
	Timeout
)

func (e ExitCode) String() string {
	switch e {
	case OK:
		return "OK"
	case TooFewArgs:
		return "TOO_FEW_ARGS"
	case TooManyArgs:
		return "TOO_MANY_ARGS"
	case BadArg:
		return "BAD_ARG"
	case NoSuchParam:
		return "NO_SUCH_PARAM"
	case OpenErr:
		return "OPEN_ERR"
	case Mem:
		return "MEM"
	case Timeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Radix selects how bare numeric keymap arguments (WRU/BRK/DEL/PCHAR) are
// parsed, per spec §6's device_default_radix.
type Radix int

const (
	Radix8  Radix = 8
	Radix16 Radix = 16
)

// Dispatcher applies SET CONSOLE tokens to a multiplexer, its console
// adapter, and the shared logfile registry, and renders SHOW CONSOLE.
type Dispatcher struct {
	Mux      *tmxr.Multiplexer
	Console  *console.Adapter
	Registry *logfile.Registry
	Radix    Radix
}

// New builds a dispatcher bound to the given components.
func New(mux *tmxr.Multiplexer, adapter *console.Adapter, registry *logfile.Registry, radix Radix) *Dispatcher {
	return &Dispatcher{Mux: mux, Console: adapter, Registry: registry, Radix: radix}
}

// Set applies the space-separated remainder of a "SET CONSOLE ..."
// command. Tokens are additionally split on commas, matching spec §6's
// "LOG=<path>, NOLOG, DEBUG=<path>, NODEBUG" grammar.
func (d *Dispatcher) Set(rest string) ExitCode {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return TooFewArgs
	}

	telnetScope := false
	for _, field := range fields {
		if strings.EqualFold(field, "TELNET") {
			telnetScope = true
			continue
		}
		if strings.EqualFold(field, "NOTELNET") {
			d.Mux.CloseMaster()
			telnetScope = false
			continue
		}
		for _, tok := range strings.Split(field, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if code := d.applyOne(tok, &telnetScope); code != OK {
				return code
			}
		}
	}
	return OK
}

func (d *Dispatcher) applyOne(tok string, telnetScope *bool) ExitCode {
	upper := strings.ToUpper(tok)

	// These console-level keywords always end telnet scope, since the
	// grammar never nests them under TELNET.
	switch {
	case strings.HasPrefix(upper, "TELNET="):
		*telnetScope = false
		return d.configure(tok[len("TELNET="):])
	case strings.HasPrefix(upper, "WRU="):
		*telnetScope = false
		return d.setKeymapByte(tok[len("WRU="):], true, func(km *console.Keymap, v byte) { km.Interrupt = v })
	case strings.HasPrefix(upper, "BRK="):
		*telnetScope = false
		return d.setKeymapByte(tok[len("BRK="):], false, func(km *console.Keymap, v byte) { km.Break = v })
	case strings.HasPrefix(upper, "DEL="):
		*telnetScope = false
		return d.setKeymapByte(tok[len("DEL="):], true, func(km *console.Keymap, v byte) { km.Delete = v })
	case strings.HasPrefix(upper, "PCHAR="):
		*telnetScope = false
		v, ok := d.parseRadix(tok[len("PCHAR="):])
		if !ok {
			return BadArg
		}
		mask := uint32(v)
		if !console.ValidatePChar(mask) {
			return BadArg
		}
		km := d.Console.Keymap()
		km.PChar = mask
		d.Console.SetKeymap(km)
		return OK
	case strings.HasPrefix(upper, "DEBUG="):
		*telnetScope = false
		return d.bindLog(tok[len("DEBUG="):], true)
	case upper == "NODEBUG":
		*telnetScope = false
		d.Registry.UnbindDebug()
		return OK
	}

	if *telnetScope {
		return d.applyTelnetToken(tok, upper)
	}

	switch {
	case strings.HasPrefix(upper, "LOG="):
		return d.bindLog(tok[len("LOG="):], false)
	case upper == "NOLOG":
		d.Registry.UnbindLog()
		return OK
	}

	return NoSuchParam
}

func (d *Dispatcher) applyTelnetToken(tok, upper string) ExitCode {
	switch {
	case upper == "UNBUFFERED" || upper == "NOBUFFERED":
		return d.configure("NOBUFFERED")
	case upper == "BUFFERED" || strings.HasPrefix(upper, "BUFFERED="):
		return d.configure(strings.ToUpper(tok))
	case strings.HasPrefix(upper, "LOG="):
		return d.configure("LOG=" + tok[len("LOG="):])
	case upper == "NOLOG":
		return d.configure("NOLOG")
	default:
		if _, err := strconv.Atoi(tok); err == nil {
			return d.configure(tok)
		}
		return BadArg
	}
}

func (d *Dispatcher) configure(spec string) ExitCode {
	if err := d.Mux.Configure(spec); err != nil {
		if strings.Contains(err.Error(), "open failed") {
			return OpenErr
		}
		return BadArg
	}
	return OK
}

func (d *Dispatcher) bindLog(path string, debug bool) ExitCode {
	if path == "" {
		return TooFewArgs
	}
	var err error
	if debug {
		err = d.Registry.BindDebug(path, false)
	} else {
		err = d.Registry.BindLog(path, false)
	}
	if err != nil {
		return OpenErr
	}
	return OK
}

func (d *Dispatcher) setKeymapByte(raw string, forbidZero bool, apply func(*console.Keymap, byte)) ExitCode {
	v, ok := d.parseRadix(raw)
	if !ok || v > 255 {
		return BadArg
	}
	if forbidZero && v == 0 {
		return BadArg
	}
	km := d.Console.Keymap()
	apply(&km, byte(v))
	d.Console.SetKeymap(km)
	return OK
}

func (d *Dispatcher) parseRadix(raw string) (uint64, bool) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		v, err := strconv.ParseUint(raw[2:], 16, 32)
		return v, err == nil
	}
	v, err := strconv.ParseUint(raw, int(d.Radix), 32)
	return v, err == nil
}

// Show renders SHOW CONSOLE's status text.
func (d *Dispatcher) Show() string {
	km := d.Console.Keymap()
	var b strings.Builder
	fmt.Fprintf(&b, "Interrupt char = %#o, Break char = %#o, Delete char = %#o\n", km.Interrupt, km.Break, km.Delete)
	fmt.Fprintf(&b, "Printable char mask = %#x\n", km.PChar)
	if port := d.Mux.Port(); port != 0 {
		fmt.Fprintf(&b, "Telnet connections on port %d\n", port)
		if enabled, size := d.Mux.Buffered(); enabled {
			fmt.Fprintf(&b, "Buffered in %d character buffer\n", size)
		}
	} else {
		b.WriteString("Connected to console window\n")
	}
	return b.String()
}
