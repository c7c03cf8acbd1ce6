package csn1

import (
	"fmt"
	"unsafe"

	"github.com/csn1codec/csn1-go/lib/bitvector"
)

// SerializeFn is the external-dispatch contract for a SERIALIZE directive
// built with SerializeFunc: given the inner State already constrained to the
// length-prefixed group's bit budget, the backing Vector, and the message
// base pointer, it interprets the group body itself rather than recursing
// into a static nested Description. It advances st.Cursor and debits
// st.RemainingBits for what it consumes; its int16 result is not used when
// the error is nil. A non-nil error is converted to a
// Fault by faultFromErr; returning a *Fault directly is preserved as-is.
type SerializeFn func(st *State, v *bitvector.Vector, base unsafe.Pointer) (int16, error)

// Kind identifies which grammar rule a Directive applies. The set mirrors
// the directive vocabulary of the grammar this engine interprets: every
// kind below has a decode and an encode case in the interpreter, except
// KindCallback which is a reserved extension point with no implementation.
type Kind uint8

const (
	KindEnd Kind = iota
	KindBit
	KindNull
	KindUint
	KindUintOffset
	KindUintLH
	KindUintArray
	KindBitmap
	KindType
	KindChoice
	KindUnion
	KindUnionLH
	KindExist
	KindExistLH
	KindNextExist
	KindNextExistLH
	KindVariableBitmap
	KindVariableBitmap1
	KindLeftAlignedVarBitmap
	KindLeftAlignedVarBitmap1
	KindVariableArray
	KindVariableTArray
	KindVariableTArrayOffset
	KindTypeArray
	KindRecursiveArray
	KindRecursiveTArray
	KindRecursiveTArray1
	KindRecursiveTArray2
	KindSerialize
	KindFixed
	KindCallback
	KindTrapError
)

var kindNames = [...]string{
	"END", "BIT", "NULL", "UINT", "UINT_OFFSET", "UINT_LH", "UINT_ARRAY",
	"BITMAP", "TYPE", "CHOICE", "UNION", "UNION_LH", "EXIST", "EXIST_LH",
	"NEXT_EXIST", "NEXT_EXIST_LH", "VARIABLE_BITMAP", "VARIABLE_BITMAP_1",
	"LEFT_ALIGNED_VAR_BMP", "LEFT_ALIGNED_VAR_BMP_1", "VARIABLE_ARRAY",
	"VARIABLE_TARRAY", "VARIABLE_TARRAY_OFFSET", "TYPE_ARRAY",
	"RECURSIVE_ARRAY", "RECURSIVE_TARRAY", "RECURSIVE_TARRAY_1",
	"RECURSIVE_TARRAY_2", "SERIALIZE", "FIXED", "CALLBACK", "TRAP_ERROR",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// recursiveTag is the continuation sentinel RECURSIVE_ARRAY/RECURSIVE_TARRAY*
// read before each element to decide whether another element follows.
// RECURSIVE_TARRAY_2 flips the convention locally for the duration of its
// own loop and restores it on exit; every other recursive kind uses the
// standard polarity throughout.
type recursiveTag uint64

const (
	standardTag recursiveTag = 1
	reversedTag recursiveTag = 0
)

// ChoiceAlt is one alternative of a CHOICE directive: a prefix tag of Bits
// bits matching Value, and the body to interpret once that tag is matched.
// Alternatives are tried in order with the cursor rewound between misses,
// so earlier entries should be the more specific (longer) prefixes when
// prefixes nest (e.g. "0" vs "10" vs "11").
type ChoiceAlt struct {
	Bits  uint8
	Value uint64
	Sub   Description
}

// Description is an ordered grammar: a flat sequence of directives an
// interpreter walks top to bottom. Nested structure (TYPE, arrays, CHOICE
// alternatives, guarded groups) is expressed as a Directive carrying its own
// nested Description in Sub, rather than as skip-counts over a single flat
// array, so a reader can see a directive's guarded body as the slice it is
// without counting array cells.
type Description []Directive

// Directive is one grammar rule. Only the fields relevant to its Kind are
// read by the interpreter; the rest are zero. Directives are immutable once
// built and carry no pointer into any particular message instance — only a
// byte Offset relative to whatever base pointer the interpreter is handed —
// so a single Description value is safe to reuse concurrently across many
// decode/encode calls against different message instances.
type Directive struct {
	Kind  Kind
	Label string

	Offset uintptr // destination/source field offset from the current base
	Bits   uint8   // bit width: BIT/UINT*/BITMAP/FIXED/array element

	Count    int     // fixed repeat count (UINT_ARRAY, TYPE_ARRAY)
	MaxCount int      // upper bound on a recursive array's element count

	CountOffset uintptr // offset of a field supplying a variable repeat count
	CountBits   uint8   // bit width of the count field (0 means 8)
	CountDelta  int     // correction added to the count once read (the "_1"/"_OFFSET" +1 forms)

	ElemSize uintptr // struct stride between elements of a T-array

	LeftAligned bool // Variable/LeftAlignedVarBmp family: bits pack from the high end with trailing pad

	Sub     Description // nested grammar: TYPE body, array element body, guarded group, SERIALIZE body
	Choices []ChoiceAlt  // CHOICE alternatives; also reused by UNION/UNION_LH (Sub only, Bits/Value unused)

	Delta   int64  // UINT_OFFSET's added/subtracted constant
	Literal uint64 // FIXED's value to match; TRAP_ERROR's reported Code

	Skip   int  // reserved for flat-array–style grammars; unused by the tree-shaped interpreter
	OrNull bool // NEXT_EXIST*: treat as absent rather than erroring when the budget is exactly exhausted

	LengthBits uint8 // SERIALIZE's length-prefix width (0 means 7, the conventional width)

	Fn SerializeFn // SERIALIZE's external dispatch function, set by SerializeFunc; takes precedence over Sub
}

// unionIndexBitsTab is the fixed index-width-per-alternative-count table
// UNION/UNION_LH derive their on-the-wire index width from, ported from the
// original grammar's ixBitsTab. Entry 0 is unused (k ranges over [1,16]).
var unionIndexBitsTab = [17]uint8{0, 1, 1, 2, 2, 3, 3, 3, 4, 4, 4, 4, 4, 4, 4, 4, 5}

// unionIndexBits returns the wire index width for a UNION/UNION_LH with k
// alternatives, or false if k is outside the [1,16] range the grammar allows.
func unionIndexBits(k int) (uint8, bool) {
	if k < 1 || k > 16 {
		return 0, false
	}
	return unionIndexBitsTab[k], true
}

func countBits(d Directive) uint8 {
	if d.CountBits == 0 {
		return 8
	}
	return d.CountBits
}

func lengthBits(d Directive) uint8 {
	if d.LengthBits == 0 {
		return 7
	}
	return d.LengthBits
}

// Bit reads/writes a single raw bit at offset.
func Bit(offset uintptr, label string) Directive {
	return Directive{Kind: KindBit, Label: label, Offset: offset, Bits: 1}
}

// Null consumes no bits; it documents an empty alternative in a CHOICE or
// UNION table.
func Null(label string) Directive {
	return Directive{Kind: KindNull, Label: label}
}

// Uint reads/writes a plain bits-wide unsigned integer at offset.
func Uint(offset uintptr, bits uint8, label string) Directive {
	return Directive{Kind: KindUint, Label: label, Offset: offset, Bits: bits}
}

// UintOffset is Uint with delta added on decode (subtracted on encode).
func UintOffset(offset uintptr, bits uint8, delta int64, label string) Directive {
	return Directive{Kind: KindUintOffset, Label: label, Offset: offset, Bits: bits, Delta: delta}
}

// UintLH is Uint with the value XOR-scrambled against the fixed L/H mask.
func UintLH(offset uintptr, bits uint8, label string) Directive {
	return Directive{Kind: KindUintLH, Label: label, Offset: offset, Bits: bits}
}

// UintArray reads/writes a fixed-count array of elemBits-wide elements.
func UintArray(offset uintptr, elemBits uint8, count int, label string) Directive {
	return Directive{Kind: KindUintArray, Label: label, Offset: offset, Bits: elemBits, Count: count}
}

// Bitmap reads/writes a fixed bits-wide flag bitmap at offset.
func Bitmap(offset uintptr, bits uint8, label string) Directive {
	return Directive{Kind: KindBitmap, Label: label, Offset: offset, Bits: bits}
}

// Type interprets sub against the struct at offset.
func Type(offset uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindType, Label: label, Offset: offset, Sub: sub}
}

// Choice tries each alternative's prefix tag in order, rewinding between
// misses, and interprets the first one that matches. The index of the
// matched alternative is recorded at offset (one byte) so a later Encode
// call over the same message knows which alternative to re-emit without
// having to re-derive it from the tag values.
func Choice(offset uintptr, label string, alts ...ChoiceAlt) Directive {
	return Directive{Kind: KindChoice, Label: label, Offset: offset, Choices: alts}
}

// Union interprets alts[index], where index is read off an index-width
// derived internally from len(alts) via the UNION count-table (so the index
// width is never supplied by the caller), clamping an out-of-range index to
// the last alternative. len(alts) outside [1,16] is a protocol error raised
// at decode/encode time, not at construction time.
func Union(offset uintptr, label string, alts ...Description) Directive {
	return Directive{Kind: KindUnion, Label: label, Offset: offset, Choices: subsToChoices(alts)}
}

// UnionLH is Union with the index XOR-scrambled against the L/H mask.
func UnionLH(offset uintptr, label string, alts ...Description) Directive {
	return Directive{Kind: KindUnionLH, Label: label, Offset: offset, Choices: subsToChoices(alts)}
}

func subsToChoices(subs []Description) []ChoiceAlt {
	out := make([]ChoiceAlt, len(subs))
	for i, s := range subs {
		out[i] = ChoiceAlt{Sub: s}
	}
	return out
}

// Exist reads a 1-bit presence flag into offset and interprets sub only when
// the flag is set.
func Exist(offset uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindExist, Label: label, Offset: offset, Sub: sub}
}

// ExistLH is Exist with the flag bit XOR-scrambled against the L/H mask.
func ExistLH(offset uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindExistLH, Label: label, Offset: offset, Sub: sub}
}

// NextExist reads a 1-bit flag into offset guarding sub, the same as Exist;
// it is kept as a distinct constructor because the grammar's NEXT_EXIST and
// EXIST directives are distinct rules even though this tree-shaped
// interpreter gives them the same runtime shape (see DESIGN.md).
func NextExist(offset uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindNextExist, Label: label, Offset: offset, Sub: sub}
}

// NextExistOrNull is NextExist with OR_NULL end-of-budget semantics: if the
// bit budget is exactly exhausted when this directive is reached, the flag
// is treated as absent instead of raising NeedMoreBits, and the directive
// immediately following the guarded group must be End.
func NextExistOrNull(offset uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindNextExist, Label: label, Offset: offset, Sub: sub, OrNull: true}
}

// NextExistLH is NextExist with the flag bit L/H-scrambled.
func NextExistLH(offset uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindNextExistLH, Label: label, Offset: offset, Sub: sub}
}

// NextExistOrNullLH combines NextExistLH's scrambling with OR_NULL semantics.
func NextExistOrNullLH(offset uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindNextExistLH, Label: label, Offset: offset, Sub: sub, OrNull: true}
}

// VariableBitmap reads a bit-length from the field at countOffset and then
// that many raw bits into a byte slice at offset.
func VariableBitmap(offset, countOffset uintptr, label string) Directive {
	return Directive{Kind: KindVariableBitmap, Label: label, Offset: offset, CountOffset: countOffset}
}

// VariableBitmap1 is VariableBitmap where the stored count is length-minus-one.
func VariableBitmap1(offset, countOffset uintptr, label string) Directive {
	return Directive{Kind: KindVariableBitmap1, Label: label, Offset: offset, CountOffset: countOffset, CountDelta: 1}
}

// LeftAlignedVarBitmap is VariableBitmap but the bits are packed from the
// high end of the field, leaving any unused trailing bits as padding.
func LeftAlignedVarBitmap(offset, countOffset uintptr, label string) Directive {
	return Directive{Kind: KindLeftAlignedVarBitmap, Label: label, Offset: offset, CountOffset: countOffset, LeftAligned: true}
}

// LeftAlignedVarBitmap1 combines LeftAlignedVarBitmap with the length-minus-one count form.
func LeftAlignedVarBitmap1(offset, countOffset uintptr, label string) Directive {
	return Directive{Kind: KindLeftAlignedVarBitmap1, Label: label, Offset: offset, CountOffset: countOffset, CountDelta: 1, LeftAligned: true}
}

// VariableArray reads a count from countOffset and then that many raw octets
// into offset, sequentially from the current bit position, aligned or not
// (see DESIGN.md for the original's rewind quirk).
func VariableArray(offset, countOffset uintptr, label string) Directive {
	return Directive{Kind: KindVariableArray, Label: label, Offset: offset, CountOffset: countOffset}
}

// VariableTArray reads a count from countOffset and interprets sub that many
// times over successive elemSize-strided elements starting at offset.
func VariableTArray(offset, countOffset, elemSize uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindVariableTArray, Label: label, Offset: offset, CountOffset: countOffset, ElemSize: elemSize, Sub: sub}
}

// VariableTArrayOffset is VariableTArray where the stored count is one less
// than the element count actually present.
func VariableTArrayOffset(offset, countOffset, elemSize uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindVariableTArrayOffset, Label: label, Offset: offset, CountOffset: countOffset, ElemSize: elemSize, Sub: sub, CountDelta: 1}
}

// TypeArray interprets sub exactly count times over successive elemSize-
// strided elements starting at offset.
func TypeArray(offset, elemSize uintptr, count int, sub Description, label string) Directive {
	return Directive{Kind: KindTypeArray, Label: label, Offset: offset, ElemSize: elemSize, Count: count, Sub: sub}
}

// RecursiveArray reads a 1-bit continuation tag before each element and
// appends elemBits-wide scalar elements at offset until the tag says stop or
// maxCount elements have been read. The number of elements actually decoded
// is written to countOffset (and, on encode, read back from there to know
// how many elements to emit) since a recursive array's length is an output
// of decoding rather than an input like VariableArray's.
func RecursiveArray(offset uintptr, elemBits uint8, maxCount int, countOffset uintptr, label string) Directive {
	return Directive{Kind: KindRecursiveArray, Label: label, Offset: offset, Bits: elemBits, MaxCount: maxCount, CountOffset: countOffset}
}

// RecursiveTArray is RecursiveArray with sub-typed, elemSize-strided elements.
func RecursiveTArray(offset, elemSize uintptr, maxCount int, countOffset uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindRecursiveTArray, Label: label, Offset: offset, ElemSize: elemSize, MaxCount: maxCount, CountOffset: countOffset, Sub: sub}
}

// RecursiveTArray1 is RecursiveTArray that checks the continuation tag after
// the first element, which is always present, rather than before it.
func RecursiveTArray1(offset, elemSize uintptr, maxCount int, countOffset uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindRecursiveTArray1, Label: label, Offset: offset, ElemSize: elemSize, MaxCount: maxCount, CountOffset: countOffset, Sub: sub}
}

// RecursiveTArray2 is RecursiveTArray with the continuation tag's polarity
// reversed for the duration of this directive's own loop.
func RecursiveTArray2(offset, elemSize uintptr, maxCount int, countOffset uintptr, sub Description, label string) Directive {
	return Directive{Kind: KindRecursiveTArray2, Label: label, Offset: offset, ElemSize: elemSize, MaxCount: maxCount, CountOffset: countOffset, Sub: sub}
}

// Serialize interprets sub as a length-prefixed group: encode reserves a
// lengthBits-wide prefix, interprets sub, then back-patches the prefix with
// the number of bits sub actually consumed; decode reads the prefix first
// and constrains sub to that many bits. lengthBits of 0 means 7.
func Serialize(sub Description, lengthBits uint8, label string) Directive {
	return Directive{Kind: KindSerialize, Label: label, Sub: sub, LengthBits: lengthBits}
}

// SerializeFunc is Serialize, but dispatches the length-prefixed group body
// to an external fn instead of a static nested Description, mirroring the
// grammar's per-type serialize function pointer.
func SerializeFunc(fn SerializeFn, lengthBits uint8, label string) Directive {
	return Directive{Kind: KindSerialize, Label: label, Fn: fn, LengthBits: lengthBits}
}

// Fixed reads bits bits and requires them to equal literal (DataNotValid if
// not) on decode; on encode it writes literal unconditionally.
func Fixed(bits uint8, literal uint64, label string) Directive {
	return Directive{Kind: KindFixed, Label: label, Bits: bits, Literal: literal}
}

// Callback is a reserved extension point with no implementation; any
// attempt to interpret it fails with NotImplemented.
func Callback(label string) Directive {
	return Directive{Kind: KindCallback, Label: label}
}

// TrapError unconditionally fails with code when reached, for marking
// grammar paths a well-formed message should never take.
func TrapError(code Code, label string) Directive {
	return Directive{Kind: KindTrapError, Label: label, Literal: uint64(uint16(code))}
}

// End marks the end of a Description. The interpreter treats reaching End
// as a normal, successful stop.
func End(label string) Directive {
	return Directive{Kind: KindEnd, Label: label}
}
