package telnet

// Mantra is the fixed sequence of IAC option-negotiation commands sent on
// every accept (spec §6).
type Mantra []byte

// DefaultMantra matches scenario S1 byte-for-byte:
// IAC WILL LINE; IAC WILL SGA; IAC WILL ECHO; IAC WILL BIN; IAC DO BIN.
var DefaultMantra = Mantra{
	IAC, WILL, OptLINE,
	IAC, WILL, OptSGA,
	IAC, WILL, OptECHO,
	IAC, WILL, OptBIN,
	IAC, DO, OptBIN,
}

// VAXMantra is the alternate prelude used by VAX-family simulators:
// IAC DONT LINE; IAC WILL SGA; IAC DO SGA; IAC WILL ECHO; IAC WILL BIN;
// IAC DO BIN.
var VAXMantra = Mantra{
	IAC, DONT, OptLINE,
	IAC, WILL, OptSGA,
	IAC, DO, OptSGA,
	IAC, WILL, OptECHO,
	IAC, WILL, OptBIN,
	IAC, DO, OptBIN,
}
