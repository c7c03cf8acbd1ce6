package csn1

import (
	"testing"
	"unsafe"

	"github.com/csn1codec/csn1-go/lib/bitvector"
	"github.com/stretchr/testify/require"
)

// Scenario tests reproduce concrete worked bit-pattern examples, one
// literal encode/decode per scenario rather than randomized coverage.

type s1Msg struct {
	B uint8
}

// S1: a single BIT directive reading the top bit of 0b10000000.
func TestScenarioS1SingleBit(t *testing.T) {
	desc := Description{
		Bit(unsafe.Offsetof(s1Msg{}.B), "b"),
		End("end"),
	}
	var dst s1Msg
	const initial = 8
	rem, err := Decode(desc, []byte{0b10000000}, initial, unsafe.Pointer(&dst))
	require.NoError(t, err)
	require.EqualValues(t, 1, dst.B)
	require.EqualValues(t, initial-1, rem)
}

type s3Msg struct {
	Sel uint8
	A   uint8
	B   uint8
	C   uint8
}

// S3: a UNION of 3 alternatives; index bits from the table is 2, and an
// input whose leading 2 bits are 0b10 (=2) selects the third alternative
// (0-indexed: alts[2]).
func TestScenarioS3UnionOfThree(t *testing.T) {
	altA := Description{Uint(unsafe.Offsetof(s3Msg{}.A), 6, "a")}
	altB := Description{Uint(unsafe.Offsetof(s3Msg{}.B), 6, "b")}
	altC := Description{Uint(unsafe.Offsetof(s3Msg{}.C), 6, "c")}
	desc := Description{
		Union(unsafe.Offsetof(s3Msg{}.Sel), "union3", altA, altB, altC),
		End("end"),
	}

	bits, ok := unionIndexBits(3)
	require.True(t, ok)
	require.EqualValues(t, 2, bits)

	// 0b10_111111: index = 0b10 = 2, followed by 6 one-bits for the
	// selected alternative's payload.
	var dst s3Msg
	_, err := Decode(desc, []byte{0b10_111111}, 8, unsafe.Pointer(&dst))
	require.NoError(t, err)
	require.EqualValues(t, 2, dst.Sel)
	require.EqualValues(t, 0x3F, dst.C)
}

// S4: a FIXED(3, 0b101) directive against an input whose leading 3 bits are
// 0b110, which must fail DataNotValid with the cursor at the mismatch.
func TestScenarioS4FixedMismatch(t *testing.T) {
	desc := Description{
		Fixed(3, 0b101, "tag"),
		End("end"),
	}
	_, err := Decode(desc, []byte{0b110_00000}, 8, nil)
	require.Error(t, err)
	var f *Fault
	require.ErrorAs(t, err, &f)
	require.Equal(t, DataNotValid, f.Code)
	require.EqualValues(t, 3, f.Position)
}

type s5Msg struct {
	Count uint8
	Elems [4]uint8
}

// S5: a RECURSIVE_ARRAY of 4-bit elements over the bitstream
// 1·0101·1·0011·0 — two elements {5, 3}, terminated by a stop tag, 11 bits
// total.
func TestScenarioS5RecursiveArray(t *testing.T) {
	desc := Description{
		RecursiveArray(unsafe.Offsetof(s5Msg{}.Elems), 4, 4, unsafe.Offsetof(s5Msg{}.Count), "rec"),
		End("end"),
	}
	// Bit string 1 0101 1 0011 0 (11 bits), packed MSB-first into two bytes
	// with trailing zero padding: 0b1010_1100, 0b1100_0000.
	data := []byte{0b10101100, 0b11000000}
	var dst s5Msg
	const initial = 11
	rem, err := Decode(desc, data, initial, unsafe.Pointer(&dst))
	require.NoError(t, err)
	require.EqualValues(t, 2, dst.Count)
	require.EqualValues(t, 5, dst.Elems[0])
	require.EqualValues(t, 3, dst.Elems[1])
	require.EqualValues(t, 0, rem)
}

type s6Inner struct {
	Big   uint32
	Small uint8
}

type s6Msg struct {
	Inner s6Inner
}

// S6: SERIALIZE round-trip where the body is exactly 37 bits (a 32-bit plus
// a 5-bit field); the 7-bit length prefix must equal 37 and decoding the
// encoding must consume exactly 44 bits (7 prefix + 37 body).
func TestScenarioS6SerializeLengthPrefix(t *testing.T) {
	inner := Description{
		Uint(unsafe.Offsetof(s6Inner{}.Big), 32, "big"),
		Uint(unsafe.Offsetof(s6Inner{}.Small), 5, "small"),
		End("inner-end"),
	}
	desc := Description{
		Serialize(inner, 7, "serial"),
		End("end"),
	}

	src := s6Msg{Inner: s6Inner{Big: 0xDEADBEEF, Small: 0x15}}
	const budget = 64
	remEncode, wire, err := Encode(desc, budget, unsafe.Pointer(&src))
	require.NoError(t, err)

	// The length prefix occupies the first 7 bits of the wire and must read
	// back as 37.
	v := bitvector.FromBytes(wire)
	var prefixCursor uint64
	prefix, err := v.Read(&prefixCursor, 7)
	require.NoError(t, err)
	require.EqualValues(t, 37, prefix)

	var dst s6Msg
	remDecode, err := Decode(desc, wire, budget, unsafe.Pointer(&dst))
	require.NoError(t, err)
	require.Equal(t, src, dst)
	require.Equal(t, remEncode, remDecode)
	require.EqualValues(t, budget-44, remDecode)
}
