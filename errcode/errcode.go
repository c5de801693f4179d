package errcode

import "strconv"

// Code is a stable, caller-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK             Code = "ok"
	InvalidChannel Code = "invalid_channel"
	Transport      Code = "transport"
	LockPoisoned   Code = "lock_poisoned"
	Cancelled      Code = "cancelled"
	Closed         Code = "closed"

	Error Code = "error" // generic fallback
)

// E keeps the operation, the bus address involved and the cause.
// Addr is zero when no bus address applies.
type E struct {
	C    Code
	Op   string
	Addr uint16
	Msg  string
	Err  error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Addr != 0 {
		s += " @0x" + strconv.FormatUint(uint64(e.Addr), 16)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.Transport) match a wrapped *E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// AddrOf returns the bus address recorded on err, if any.
func AddrOf(err error) (uint16, bool) {
	if e, ok := err.(*E); ok && e.Addr != 0 {
		return e.Addr, true
	}
	return 0, false
}
