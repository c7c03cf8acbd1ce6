package csn1

import (
	"errors"
	"fmt"
)

// Code is a stable, negative error code per the CSN.1 engine's ABI. Zero and
// positive values are not errors; negative values are, and NotImplemented
// (999) is an explicit out-of-band sentinel for directives this engine does
// not implement (CALLBACK, and UINT_ARRAY element widths above 16 bits).
type Code int16

const (
	OK                  Code = 0
	General             Code = -1
	DataNotValid        Code = -2
	InScript            Code = -3
	InvalidUnionIndex   Code = -4
	NeedMoreBits        Code = -5
	IllegalBitValue     Code = -6
	Internal            Code = -7
	StreamNotSupported  Code = -8
	MessageTooLong      Code = -9
	NotImplemented      Code = 999
)

var codeNames = map[Code]string{
	OK:                 "OK",
	General:            "GENERAL",
	DataNotValid:       "DATA_NOT_VALID",
	InScript:           "IN_SCRIPT",
	InvalidUnionIndex:  "INVALID_UNION_INDEX",
	NeedMoreBits:       "NEED_MORE_BITS_TO_UNPACK",
	IllegalBitValue:    "ILLEGAL_BIT_VALUE",
	Internal:           "INTERNAL",
	StreamNotSupported: "STREAM_NOT_SUPPORTED",
	MessageTooLong:     "MESSAGE_TOO_LONG",
	NotImplemented:     "NOT_IMPLEMENTED",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", int16(c))
}

// Fault is the error a decode/encode call returns when a directive fails.
// It never gets rewrapped as it bubbles up through nested calls: the first
// Fault raised is the one the caller sees, unchanged, together with the
// directive label and bit position that raised it.
type Fault struct {
	Code     Code
	Label    string
	Position uint64
}

func (f *Fault) Error() string {
	return fmt.Sprintf("csn1: %s at %q (bit %d)", f.Code, f.Label, f.Position)
}

func fault(code Code, label string, pos uint64) (int16, *Fault) {
	return int16(code), &Fault{Code: code, Label: label, Position: pos}
}

// faultFromErr converts the error a SerializeFn implementer returns into
// this package's (int16, *Fault) convention. An error that already carries a
// *Fault (typically one raised by a nested decodeSeq/encodeSeq call) passes
// through unchanged; anything else is wrapped as Internal at pos.
func faultFromErr(err error, label string, pos uint64) (int16, *Fault) {
	var f *Fault
	if errors.As(err, &f) {
		return int16(f.Code), f
	}
	return fault(Internal, label, pos)
}
