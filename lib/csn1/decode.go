package csn1

import (
	"unsafe"

	"github.com/csn1codec/csn1-go/lib/bitvector"
)

// Decode interprets desc against data starting at bit 0, unpacking into the
// struct msg points at, using numBits as the declared bit budget (typically
// 8*len(data) for a whole octet-aligned message, or less when decoding a
// sub-field already isolated by a caller). On success it returns the number
// of bits left unconsumed in the budget (never negative); on failure it
// returns one of the negative Code values (or the 999 NotImplemented
// sentinel) together with a *Fault describing where interpretation stopped.
func Decode(desc Description, data []byte, numBits int, msg unsafe.Pointer) (int16, error) {
	v := bitvector.FromBytes(data)
	st := &State{Dir: Decoding, RemainingBits: int64(numBits)}
	code, f := decodeSeq(st, desc, v, msg)
	if f != nil {
		return code, f
	}
	return int16(st.RemainingBits), nil
}

func checkBudget(st *State, n uint8, label string) *Fault {
	if st.RemainingBits < int64(n) {
		return &Fault{Code: NeedMoreBits, Label: label, Position: st.Cursor}
	}
	return nil
}

func wrapVectorErr(err error, label string, pos uint64) (int16, *Fault) {
	if err == bitvector.ErrOutOfRange {
		return fault(NeedMoreBits, label, pos)
	}
	return fault(Internal, label, pos)
}

// decodeSeq walks desc top to bottom, stopping successfully at an explicit
// End directive or the end of the slice, and propagating the first Fault
// any directive raises.
func decodeSeq(st *State, desc Description, v *bitvector.Vector, base unsafe.Pointer) (int16, *Fault) {
	for i := 0; i < len(desc); i++ {
		d := desc[i]
		if d.Kind == KindEnd {
			return 0, nil
		}
		code, f, orNullSkip := decodeOne(st, d, v, base)
		if f != nil {
			return code, f
		}
		if orNullSkip {
			if i+1 < len(desc) && desc[i+1].Kind != KindEnd {
				return fault(InScript, d.Label, st.Cursor)
			}
			return 0, nil
		}
	}
	return 0, nil
}

func decodeOne(st *State, d Directive, v *bitvector.Vector, base unsafe.Pointer) (int16, *Fault, bool) {
	switch d.Kind {
	case KindNull:
		return 0, nil, false

	case KindBit:
		if f := checkBudget(st, 1, d.Label); f != nil {
			return int16(f.Code), f, false
		}
		val, err := v.Read(&st.Cursor, 1)
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		storeUint(base, d.Offset, 1, val)
		st.consume(1)
		return 0, nil, false

	case KindUint:
		if d.Bits > 32 {
			return fault(General, d.Label, st.Cursor)
		}
		if f := checkBudget(st, d.Bits, d.Label); f != nil {
			return int16(f.Code), f, false
		}
		val, err := v.Read(&st.Cursor, d.Bits)
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		storeUint(base, d.Offset, d.Bits, val)
		st.consume(d.Bits)
		return 0, nil, false

	case KindBitmap:
		if d.Bits > 64 {
			return fault(NotImplemented, d.Label, st.Cursor)
		}
		if f := checkBudget(st, d.Bits, d.Label); f != nil {
			return int16(f.Code), f, false
		}
		val, err := v.Read(&st.Cursor, d.Bits)
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		storeUint(base, d.Offset, d.Bits, val)
		st.consume(d.Bits)
		return 0, nil, false

	case KindUintOffset:
		if d.Bits > 32 {
			return fault(General, d.Label, st.Cursor)
		}
		if f := checkBudget(st, d.Bits, d.Label); f != nil {
			return int16(f.Code), f, false
		}
		raw, err := v.Read(&st.Cursor, d.Bits)
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		storeUint(base, d.Offset, d.Bits, raw+uint64(d.Delta))
		st.consume(d.Bits)
		return 0, nil, false

	case KindUintLH:
		if d.Bits > 8 {
			return fault(General, d.Label, st.Cursor)
		}
		if f := checkBudget(st, d.Bits, d.Label); f != nil {
			return int16(f.Code), f, false
		}
		val, err := lhDecode(v, &st.Cursor, d.Bits)
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		storeUint(base, d.Offset, d.Bits, val)
		// Debited once, like every other scalar directive (see DESIGN.md for
		// why a double-decrement here is not worth reproducing).
		st.consume(d.Bits)
		return 0, nil, false

	case KindUintArray:
		if d.Bits > 16 {
			return fault(NotImplemented, d.Label, st.Cursor)
		}
		total := uint32(d.Bits) * uint32(d.Count)
		if int64(total) > st.RemainingBits {
			return fault(NeedMoreBits, d.Label, st.Cursor)
		}
		for i := 0; i < d.Count; i++ {
			val, err := v.Read(&st.Cursor, d.Bits)
			if err != nil {
				c, f := wrapVectorErr(err, d.Label, st.Cursor)
				return c, f, false
			}
			storeArrayElem(base, d.Offset, d.Bits, i, val)
			st.consume(d.Bits)
		}
		return 0, nil, false

	case KindType:
		sub := unsafe.Add(base, d.Offset)
		code, f := decodeSeq(st, d.Sub, v, sub)
		return code, f, false

	case KindChoice:
		for i, alt := range d.Choices {
			if alt.Bits == 0 {
				storeUint(base, d.Offset, 8, uint64(i))
				code, f := decodeSeq(st, alt.Sub, v, base)
				return code, f, false
			}
			if int64(alt.Bits) > st.RemainingBits {
				continue
			}
			trial := st.Cursor
			val, err := v.Read(&trial, alt.Bits)
			if err != nil {
				c, f := wrapVectorErr(err, d.Label, st.Cursor)
				return c, f, false
			}
			if val == alt.Value {
				st.Cursor = trial
				st.RemainingBits -= int64(alt.Bits)
				storeUint(base, d.Offset, 8, uint64(i))
				code, f := decodeSeq(st, alt.Sub, v, base)
				return code, f, false
			}
		}
		return fault(InvalidUnionIndex, d.Label, st.Cursor)

	case KindUnion, KindUnionLH:
		bits, ok := unionIndexBits(len(d.Choices))
		if !ok {
			return fault(InvalidUnionIndex, d.Label, st.Cursor)
		}
		if f := checkBudget(st, bits, d.Label); f != nil {
			return int16(f.Code), f, false
		}
		var idx uint64
		var err error
		if d.Kind == KindUnionLH {
			idx, err = lhDecode(v, &st.Cursor, bits)
		} else {
			idx, err = v.Read(&st.Cursor, bits)
		}
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(bits)
		clamped := idx
		if int(clamped) >= len(d.Choices) {
			clamped = uint64(len(d.Choices) - 1)
		}
		storeUint(base, d.Offset, 8, clamped)
		code, f := decodeSeq(st, d.Choices[clamped].Sub, v, base)
		return code, f, false

	case KindExist, KindExistLH, KindNextExist, KindNextExistLH:
		if d.OrNull && st.RemainingBits == 0 {
			storeUint(base, d.Offset, 1, 0)
			return 0, nil, true
		}
		if f := checkBudget(st, 1, d.Label); f != nil {
			return int16(f.Code), f, false
		}
		var flag uint64
		var err error
		if d.Kind == KindExistLH || d.Kind == KindNextExistLH {
			flag, err = lhDecode(v, &st.Cursor, 1)
		} else {
			flag, err = v.Read(&st.Cursor, 1)
		}
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(1)
		storeUint(base, d.Offset, 1, flag)
		if flag == 1 {
			code, f := decodeSeq(st, d.Sub, v, base)
			return code, f, false
		}
		return 0, nil, false

	case KindVariableBitmap, KindVariableBitmap1, KindLeftAlignedVarBitmap, KindLeftAlignedVarBitmap1:
		count := int(loadUint(base, d.CountOffset, countBits(d))) + d.CountDelta
		if int64(count) > st.RemainingBits {
			return fault(NeedMoreBits, d.Label, st.Cursor)
		}
		dst := unsafe.Add(base, d.Offset)
		var err error
		if d.LeftAligned {
			err = readBitsLeftAligned(v, &st.Cursor, count, dst)
		} else {
			err = readBitsRightAligned(v, &st.Cursor, count, dst)
		}
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.RemainingBits -= int64(count)
		return 0, nil, false

	case KindVariableArray:
		count := int(loadUint(base, d.CountOffset, countBits(d)))
		if int64(count)*8 > st.RemainingBits {
			return fault(NeedMoreBits, d.Label, st.Cursor)
		}
		// Reads whole octets sequentially from the current cursor, whether or
		// not it is byte-aligned. See DESIGN.md for the original's rewind.
		dst := unsafe.Add(base, d.Offset)
		for i := 0; i < count; i++ {
			val, err := v.Read(&st.Cursor, 8)
			if err != nil {
				c, f := wrapVectorErr(err, d.Label, st.Cursor)
				return c, f, false
			}
			*(*uint8)(unsafe.Add(dst, uintptr(i))) = uint8(val)
			st.consume(8)
		}
		return 0, nil, false

	case KindVariableTArray, KindVariableTArrayOffset:
		count := int(loadUint(base, d.CountOffset, countBits(d))) + d.CountDelta
		for i := 0; i < count; i++ {
			elemBase := elemAt(base, d.Offset, d.ElemSize, i)
			if code, f := decodeSeq(st, d.Sub, v, elemBase); f != nil {
				return code, f, false
			}
		}
		return 0, nil, false

	case KindTypeArray:
		for i := 0; i < d.Count; i++ {
			elemBase := elemAt(base, d.Offset, d.ElemSize, i)
			if code, f := decodeSeq(st, d.Sub, v, elemBase); f != nil {
				return code, f, false
			}
		}
		return 0, nil, false

	case KindRecursiveArray, KindRecursiveTArray, KindRecursiveTArray1, KindRecursiveTArray2:
		if d.Kind == KindRecursiveArray && d.Bits > 32 {
			return fault(General, d.Label, st.Cursor)
		}
		continueVal := standardTag
		if d.Kind == KindRecursiveTArray2 {
			continueVal = reversedTag
		}
		count := 0
		for {
			if d.MaxCount > 0 && count >= d.MaxCount {
				break
			}
			needTag := !(d.Kind == KindRecursiveTArray1 && count == 0)
			if needTag {
				if f := checkBudget(st, 1, d.Label); f != nil {
					return int16(f.Code), f, false
				}
				tag, err := v.Read(&st.Cursor, 1)
				if err != nil {
					c, f := wrapVectorErr(err, d.Label, st.Cursor)
					return c, f, false
				}
				st.consume(1)
				if recursiveTag(tag) != continueVal {
					break
				}
			}
			if d.Kind == KindRecursiveArray {
				if f := checkBudget(st, d.Bits, d.Label); f != nil {
					return int16(f.Code), f, false
				}
				val, err := v.Read(&st.Cursor, d.Bits)
				if err != nil {
					c, f := wrapVectorErr(err, d.Label, st.Cursor)
					return c, f, false
				}
				storeArrayElem(base, d.Offset, d.Bits, count, val)
				st.consume(d.Bits)
			} else {
				elemBase := elemAt(base, d.Offset, d.ElemSize, count)
				if code, f := decodeSeq(st, d.Sub, v, elemBase); f != nil {
					return code, f, false
				}
			}
			count++
		}
		storeUint(base, d.CountOffset, countBits(d), uint64(count))
		return 0, nil, false

	case KindSerialize:
		lb := lengthBits(d)
		if f := checkBudget(st, lb, d.Label); f != nil {
			return int16(f.Code), f, false
		}
		length, err := v.Read(&st.Cursor, lb)
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(lb)
		if int64(length) > st.RemainingBits {
			return fault(NeedMoreBits, d.Label, st.Cursor)
		}
		start := st.Cursor
		inner := State{Dir: st.Dir, Cursor: start, RemainingBits: int64(length)}
		var bodyCode int16
		var bodyFault *Fault
		if d.Fn != nil {
			var ferr error
			bodyCode, ferr = d.Fn(&inner, v, base)
			if ferr != nil {
				bodyCode, bodyFault = faultFromErr(ferr, d.Label, inner.Cursor)
			}
		} else {
			bodyCode, bodyFault = decodeSeq(&inner, d.Sub, v, base)
		}
		if bodyFault != nil {
			return bodyCode, bodyFault, false
		}
		end := start + length
		if inner.Cursor > end {
			return fault(MessageTooLong, d.Label, inner.Cursor)
		}
		st.Cursor = end
		st.RemainingBits -= int64(length)
		return 0, nil, false

	case KindFixed:
		if f := checkBudget(st, d.Bits, d.Label); f != nil {
			return int16(f.Code), f, false
		}
		val, err := v.Read(&st.Cursor, d.Bits)
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(d.Bits)
		if val != d.Literal {
			return fault(DataNotValid, d.Label, st.Cursor)
		}
		return 0, nil, false

	case KindCallback:
		return fault(NotImplemented, d.Label, st.Cursor)

	case KindTrapError:
		return fault(Code(int16(uint16(d.Literal))), d.Label, st.Cursor)

	default:
		return fault(Internal, d.Label, st.Cursor)
	}
}

// readBitsLeftAligned packs n bits (MSB-first) starting at *cursor into dst,
// full bytes first, with any final partial byte shifted to occupy the high
// end of its byte. This is the LEFT_ALIGNED_VAR_BMP/_1 wire convention.
func readBitsLeftAligned(v *bitvector.Vector, cursor *uint64, n int, dst unsafe.Pointer) error {
	full := n / 8
	rem := uint8(n % 8)
	for i := 0; i < full; i++ {
		b, err := v.Read(cursor, 8)
		if err != nil {
			return err
		}
		*(*uint8)(unsafe.Add(dst, uintptr(i))) = uint8(b)
	}
	if rem > 0 {
		b, err := v.Read(cursor, rem)
		if err != nil {
			return err
		}
		*(*uint8)(unsafe.Add(dst, uintptr(full))) = uint8(b) << (8 - rem)
	}
	return nil
}

// readBitsRightAligned packs n bits (MSB-first) starting at *cursor into
// dst: a leading partial byte first, holding the excess bits un-shifted at
// the low end of the byte, followed by full bytes. This is the
// VARIABLE_BITMAP/_1 wire convention.
func readBitsRightAligned(v *bitvector.Vector, cursor *uint64, n int, dst unsafe.Pointer) error {
	rem := uint8(n % 8)
	i := 0
	if rem > 0 {
		b, err := v.Read(cursor, rem)
		if err != nil {
			return err
		}
		*(*uint8)(unsafe.Add(dst, uintptr(i))) = uint8(b)
		i++
	}
	full := n / 8
	for j := 0; j < full; j++ {
		b, err := v.Read(cursor, 8)
		if err != nil {
			return err
		}
		*(*uint8)(unsafe.Add(dst, uintptr(i))) = uint8(b)
		i++
	}
	return nil
}
