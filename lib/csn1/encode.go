package csn1

import (
	"unsafe"

	"github.com/csn1codec/csn1-go/lib/bitvector"
)

// Encode interprets desc against the struct msg points at and packs the
// result into a freshly-allocated Vector, using numBits as the declared bit
// budget (mirroring the value Decode was given, so budget-conservation
// round-trip checks compare like with like). On success it returns the
// number of bits left unspent in the budget and the packed bytes; on
// failure it returns a negative Code (or 999) and the *Fault that raised it.
func Encode(desc Description, numBits int, msg unsafe.Pointer) (int16, []byte, error) {
	v := bitvector.New()
	st := &State{Dir: Encoding, RemainingBits: int64(numBits)}
	code, f := encodeSeq(st, desc, v, msg)
	if f != nil {
		return code, nil, f
	}
	return int16(st.RemainingBits), v.Bytes(), nil
}

func encodeSeq(st *State, desc Description, v *bitvector.Vector, base unsafe.Pointer) (int16, *Fault) {
	for i := 0; i < len(desc); i++ {
		d := desc[i]
		if d.Kind == KindEnd {
			return 0, nil
		}
		code, f, orNullSkip := encodeOne(st, d, v, base)
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

func encodeOne(st *State, d Directive, v *bitvector.Vector, base unsafe.Pointer) (int16, *Fault, bool) {
	switch d.Kind {
	case KindNull:
		return 0, nil, false

	case KindBit:
		val := loadUint(base, d.Offset, 1)
		if err := v.Write(&st.Cursor, 1, val); err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(1)
		return 0, nil, false

	case KindUint:
		if d.Bits > 32 {
			return fault(General, d.Label, st.Cursor)
		}
		val := loadUint(base, d.Offset, d.Bits)
		if err := v.Write(&st.Cursor, d.Bits, val); err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(d.Bits)
		return 0, nil, false

	case KindBitmap:
		if d.Bits > 64 {
			return fault(NotImplemented, d.Label, st.Cursor)
		}
		val := loadUint(base, d.Offset, d.Bits)
		if err := v.Write(&st.Cursor, d.Bits, val); err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(d.Bits)
		return 0, nil, false

	case KindUintOffset:
		if d.Bits > 32 {
			return fault(General, d.Label, st.Cursor)
		}
		fieldVal := loadUint(base, d.Offset, d.Bits)
		var toWrite uint64
		if d.Bits == 16 || d.Bits == 32 {
			// Preserved bug: the delta is narrowed to 16 bits before being
			// subtracted. A 16-bit field is unaffected, but a 32-bit field
			// is corrupted by any delta outside 0..65535, negative deltas
			// included. See DESIGN.md.
			toWrite = fieldVal - uint64(uint16(d.Delta))
		} else {
			toWrite = fieldVal - uint64(d.Delta)
		}
		if err := v.Write(&st.Cursor, d.Bits, toWrite); err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(d.Bits)
		return 0, nil, false

	case KindUintLH:
		if d.Bits > 8 {
			return fault(General, d.Label, st.Cursor)
		}
		val := loadUint(base, d.Offset, d.Bits)
		if err := lhEncode(v, &st.Cursor, d.Bits, val); err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(d.Bits)
		return 0, nil, false

	case KindUintArray:
		if d.Bits > 16 {
			return fault(NotImplemented, d.Label, st.Cursor)
		}
		for i := 0; i < d.Count; i++ {
			val := loadArrayElem(base, d.Offset, d.Bits, i)
			if err := v.Write(&st.Cursor, d.Bits, val); err != nil {
				c, f := wrapVectorErr(err, d.Label, st.Cursor)
				return c, f, false
			}
			st.consume(d.Bits)
		}
		return 0, nil, false

	case KindType:
		sub := unsafe.Add(base, d.Offset)
		code, f := encodeSeq(st, d.Sub, v, sub)
		return code, f, false

	case KindChoice:
		idx := int(loadUint(base, d.Offset, 8))
		if idx < 0 || idx >= len(d.Choices) {
			return fault(InvalidUnionIndex, d.Label, st.Cursor)
		}
		alt := d.Choices[idx]
		if alt.Bits > 0 {
			if err := v.Write(&st.Cursor, alt.Bits, alt.Value); err != nil {
				c, f := wrapVectorErr(err, d.Label, st.Cursor)
				return c, f, false
			}
			st.consume(alt.Bits)
		}
		code, f := encodeSeq(st, alt.Sub, v, base)
		return code, f, false

	case KindUnion, KindUnionLH:
		bits, ok := unionIndexBits(len(d.Choices))
		if !ok {
			return fault(InvalidUnionIndex, d.Label, st.Cursor)
		}
		idx := loadUint(base, d.Offset, 8)
		if int(idx) >= len(d.Choices) {
			return fault(InvalidUnionIndex, d.Label, st.Cursor)
		}
		var err error
		if d.Kind == KindUnionLH {
			err = lhEncode(v, &st.Cursor, bits, idx)
		} else {
			err = v.Write(&st.Cursor, bits, idx)
		}
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(bits)
		code, f := encodeSeq(st, d.Choices[idx].Sub, v, base)
		return code, f, false

	case KindExist, KindExistLH, KindNextExist, KindNextExistLH:
		if d.OrNull && st.RemainingBits == 0 {
			return 0, nil, true
		}
		flag := loadUint(base, d.Offset, 1)
		var err error
		if d.Kind == KindExistLH || d.Kind == KindNextExistLH {
			err = lhEncode(v, &st.Cursor, 1, flag)
		} else {
			err = v.Write(&st.Cursor, 1, flag)
		}
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(1)
		if flag == 1 {
			code, f := encodeSeq(st, d.Sub, v, base)
			return code, f, false
		}
		return 0, nil, false

	case KindVariableBitmap, KindVariableBitmap1, KindLeftAlignedVarBitmap, KindLeftAlignedVarBitmap1:
		count := int(loadUint(base, d.CountOffset, countBits(d))) + d.CountDelta
		src := unsafe.Add(base, d.Offset)
		var err error
		if d.LeftAligned {
			err = writeBitsLeftAligned(v, &st.Cursor, count, src)
		} else {
			err = writeBitsRightAligned(v, &st.Cursor, count, src)
		}
		if err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.RemainingBits -= int64(count)
		return 0, nil, false

	case KindVariableArray:
		count := int(loadUint(base, d.CountOffset, countBits(d)))
		src := unsafe.Add(base, d.Offset)
		for i := 0; i < count; i++ {
			val := uint64(*(*uint8)(unsafe.Add(src, uintptr(i))))
			if err := v.Write(&st.Cursor, 8, val); err != nil {
				c, f := wrapVectorErr(err, d.Label, st.Cursor)
				return c, f, false
			}
			st.consume(8)
		}
		return 0, nil, false

	case KindVariableTArray, KindVariableTArrayOffset:
		count := int(loadUint(base, d.CountOffset, countBits(d))) + d.CountDelta
		for i := 0; i < count; i++ {
			elemBase := elemAt(base, d.Offset, d.ElemSize, i)
			if code, f := encodeSeq(st, d.Sub, v, elemBase); f != nil {
				return code, f, false
			}
		}
		return 0, nil, false

	case KindTypeArray:
		for i := 0; i < d.Count; i++ {
			elemBase := elemAt(base, d.Offset, d.ElemSize, i)
			if code, f := encodeSeq(st, d.Sub, v, elemBase); f != nil {
				return code, f, false
			}
		}
		return 0, nil, false

	case KindRecursiveArray, KindRecursiveTArray, KindRecursiveTArray1, KindRecursiveTArray2:
		if d.Kind == KindRecursiveArray && d.Bits > 32 {
			return fault(General, d.Label, st.Cursor)
		}
		continueVal := standardTag
		stopVal := reversedTag
		if d.Kind == KindRecursiveTArray2 {
			continueVal = reversedTag
			stopVal = standardTag
		}
		count := int(loadUint(base, d.CountOffset, countBits(d)))
		for i := 0; i < count; i++ {
			needTag := !(d.Kind == KindRecursiveTArray1 && i == 0)
			if needTag {
				if err := v.Write(&st.Cursor, 1, uint64(continueVal)); err != nil {
					c, f := wrapVectorErr(err, d.Label, st.Cursor)
					return c, f, false
				}
				st.consume(1)
			}
			if d.Kind == KindRecursiveArray {
				val := loadArrayElem(base, d.Offset, d.Bits, i)
				if err := v.Write(&st.Cursor, d.Bits, val); err != nil {
					c, f := wrapVectorErr(err, d.Label, st.Cursor)
					return c, f, false
				}
				st.consume(d.Bits)
			} else {
				elemBase := elemAt(base, d.Offset, d.ElemSize, i)
				if code, f := encodeSeq(st, d.Sub, v, elemBase); f != nil {
					return code, f, false
				}
			}
		}
		if d.MaxCount <= 0 || count < d.MaxCount {
			if err := v.Write(&st.Cursor, 1, uint64(stopVal)); err != nil {
				c, f := wrapVectorErr(err, d.Label, st.Cursor)
				return c, f, false
			}
			st.consume(1)
		}
		return 0, nil, false

	case KindSerialize:
		lb := lengthBits(d)
		prefixPos := st.Cursor
		tmp := prefixPos
		if err := v.Write(&tmp, lb, 0); err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		inner := State{Dir: st.Dir, Cursor: tmp, RemainingBits: st.RemainingBits - int64(lb)}
		var bodyCode int16
		var bodyFault *Fault
		if d.Fn != nil {
			var ferr error
			bodyCode, ferr = d.Fn(&inner, v, base)
			if ferr != nil {
				bodyCode, bodyFault = faultFromErr(ferr, d.Label, inner.Cursor)
			}
		} else {
			bodyCode, bodyFault = encodeSeq(&inner, d.Sub, v, base)
		}
		if bodyFault != nil {
			return bodyCode, bodyFault, false
		}
		bodyBits := inner.Cursor - tmp
		patch := prefixPos
		if err := v.Write(&patch, lb, bodyBits); err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.Cursor = inner.Cursor
		st.RemainingBits = inner.RemainingBits
		return 0, nil, false

	case KindFixed:
		if err := v.Write(&st.Cursor, d.Bits, d.Literal); err != nil {
			c, f := wrapVectorErr(err, d.Label, st.Cursor)
			return c, f, false
		}
		st.consume(d.Bits)
		return 0, nil, false

	case KindCallback:
		return fault(NotImplemented, d.Label, st.Cursor)

	case KindTrapError:
		return fault(Code(int16(uint16(d.Literal))), d.Label, st.Cursor)

	default:
		return fault(Internal, d.Label, st.Cursor)
	}
}

// writeBitsLeftAligned is the encode-side mirror of readBitsLeftAligned: it
// packs n bits (MSB-first) starting at *cursor from src, full bytes first,
// reading the final partial byte's bits back from the high end to match the
// padding readBitsLeftAligned produces on decode.
func writeBitsLeftAligned(v *bitvector.Vector, cursor *uint64, n int, src unsafe.Pointer) error {
	full := n / 8
	rem := uint8(n % 8)
	for i := 0; i < full; i++ {
		b := uint64(*(*uint8)(unsafe.Add(src, uintptr(i))))
		if err := v.Write(cursor, 8, b); err != nil {
			return err
		}
	}
	if rem > 0 {
		b := *(*uint8)(unsafe.Add(src, uintptr(full)))
		if err := v.Write(cursor, rem, uint64(b>>(8-rem))); err != nil {
			return err
		}
	}
	return nil
}

// writeBitsRightAligned is the encode-side mirror of readBitsRightAligned:
// it packs n bits (MSB-first) starting at *cursor from src, a leading
// partial byte first (its bits taken un-shifted from the low end of the
// byte) followed by full bytes.
func writeBitsRightAligned(v *bitvector.Vector, cursor *uint64, n int, src unsafe.Pointer) error {
	rem := uint8(n % 8)
	i := 0
	if rem > 0 {
		b := *(*uint8)(unsafe.Add(src, uintptr(i)))
		if err := v.Write(cursor, rem, uint64(b)); err != nil {
			return err
		}
		i++
	}
	full := n / 8
	for j := 0; j < full; j++ {
		b := uint64(*(*uint8)(unsafe.Add(src, uintptr(i))))
		if err := v.Write(cursor, 8, b); err != nil {
			return err
		}
		i++
	}
	return nil
}
