package iec104

import "fmt"

type errSingleCmdTerm struct{}

func (e errSingleCmdTerm) Error() string {
	return "termination of single command"
}

// IsErrSingleCmdTerm reports whether err marks the normal termination of a
// single-command exchange rather than a protocol failure.
func IsErrSingleCmdTerm(err error) bool {
	_, ok := err.(errSingleCmdTerm)
	return ok
}

type errDoubleCmdTerm struct{}

func (e errDoubleCmdTerm) Error() string {
	return "termination of double command"
}

// IsErrDoubleCmdTerm reports whether err marks the normal termination of a
// double-command exchange rather than a protocol failure.
func IsErrDoubleCmdTerm(err error) bool {
	_, ok := err.(errDoubleCmdTerm)
	return ok
}

// ErrUnknownFrameType is returned by APCI.Parse when the two low bits of the
// first control field do not select I, S, or U format.
var ErrUnknownFrameType = fmt.Errorf("iec104: unknown frame type")

// ErrShortFrame is returned when a buffer handed to Parse is shorter than the
// structure it is meant to represent.
type ErrShortFrame struct {
	Want, Got int
}

func (e *ErrShortFrame) Error() string {
	return fmt.Sprintf("iec104: short frame: want at least %d bytes, got %d", e.Want, e.Got)
}

// ErrBadStartByte is returned by ReadAPDU when the stream does not begin with
// the 0x68 start-of-frame octet.
type ErrBadStartByte struct {
	Got byte
}

func (e *ErrBadStartByte) Error() string {
	return fmt.Sprintf("iec104: bad start byte 0x%02X, want 0x%02X", e.Got, startByte)
}
