package csn1

import "github.com/csn1codec/csn1-go/lib/bitvector"

// lhXorMask is the fixed scrambling constant applied to L/H ("left-high")
// fields. The mask is byte-aligned and repeats every 8 bits, so a window
// that crosses a byte boundary is scrambled against the same constant
// shifted across the boundary rather than against two independent bytes.
const lhXorMask uint64 = 0x2B

// lhMaskBits extracts the n-bit (1-8) window starting at bitIdx (0-7, taken
// modulo 8 from an absolute cursor) out of the infinitely-repeating 0x2B
// pattern. Because lhXorMask repeats every byte, this is equivalent to
// reading n bits at bit-offset bitIdx from a buffer of 0x2B bytes, which
// naturally handles the case where the window straddles a byte boundary.
func lhMaskBits(bitIdx uint8, n uint8) uint64 {
	avail := 8 - bitIdx
	if n <= avail {
		shift := avail - n
		return (lhXorMask >> shift) & maskLow(n)
	}
	high := n - avail
	hi := lhXorMask & maskLow(avail)
	lo := (lhXorMask >> (8 - high)) & maskLow(high)
	return (hi << high) | lo
}

func maskLow(n uint8) uint64 {
	if n == 0 {
		return 0
	}
	return (uint64(1) << n) - 1
}

// lhDecode reads an n-bit (1-8) L/H-scrambled field starting at *cursor and
// advances *cursor by n, undoing the scrambling before returning the value.
func lhDecode(v *bitvector.Vector, cursor *uint64, n uint8) (uint64, error) {
	if n == 0 || n > 8 {
		return 0, bitvector.ErrBitWidth
	}
	bitIdx := uint8(*cursor % 8)
	raw, err := v.Read(cursor, n)
	if err != nil {
		return 0, err
	}
	return raw ^ lhMaskBits(bitIdx, n), nil
}

// lhEncode writes the low n bits (1-8) of value starting at *cursor,
// scrambled so a matching lhDecode recovers value, and advances *cursor by n.
func lhEncode(v *bitvector.Vector, cursor *uint64, n uint8, value uint64) error {
	if n == 0 || n > 8 {
		return bitvector.ErrBitWidth
	}
	bitIdx := uint8(*cursor % 8)
	scrambled := (value & maskLow(n)) ^ lhMaskBits(bitIdx, n)
	return v.Write(cursor, n, scrambled)
}
