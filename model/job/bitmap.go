package job

import (
	"fmt"
	"math/bits"
)

// Bitmap is a progress map over the items of one layer of a job. Bit N lives
// in byte N/8 at position N%8, least significant bit first.
type Bitmap []byte

// BitmapLen returns the number of bytes needed to hold n bits.
func BitmapLen(n uint32) int {
	return int((uint64(n) + 7) / 8)
}

// NewBitmap returns an all-zero bitmap for n items.
func NewBitmap(n uint32) Bitmap {
	return make(Bitmap, BitmapLen(n))
}

// IsSet returns whether bit i is set. Bits beyond the map are unset.
func (b Bitmap) IsSet(i uint32) bool {
	idx := int(i / 8)
	if idx >= len(b) {
		return false
	}
	return b[idx]&(1<<(i%8)) != 0
}

// Set sets bit i. The bitmap must be large enough to hold it.
func (b Bitmap) Set(i uint32) {
	b[i/8] |= 1 << (i % 8)
}

// Count returns the number of set bits.
func (b Bitmap) Count() int {
	count := 0
	for _, v := range b {
		count += bits.OnesCount8(v)
	}
	return count
}

// Grow returns a bitmap able to hold n bits, keeping all set bits.
func (b Bitmap) Grow(n uint32) Bitmap {
	need := BitmapLen(n)
	if len(b) >= need {
		return b
	}
	grown := make(Bitmap, need)
	copy(grown, b)
	return grown
}

// Clone returns a copy of the bitmap.
func (b Bitmap) Clone() Bitmap {
	c := make(Bitmap, len(b))
	copy(c, b)
	return c
}

// Covers returns whether every bit set in prev is also set in b.
func (b Bitmap) Covers(prev Bitmap) bool {
	for i, v := range prev {
		var cur byte
		if i < len(b) {
			cur = b[i]
		}
		if v&^cur != 0 {
			return false
		}
	}
	return true
}

// FirstUnset returns the lowest index below n whose bit is unset and for which
// skip returns false. skip may be nil.
func (b Bitmap) FirstUnset(n uint32, skip func(uint32) bool) (uint32, bool) {
	for i := uint32(0); i < n; i++ {
		if b.IsSet(i) {
			// skip whole bytes of completed items
			if i%8 == 0 && int(i/8) < len(b) && b[i/8] == 0xff {
				i += 7
			}
			continue
		}
		if skip != nil && skip(i) {
			continue
		}
		return i, true
	}
	return 0, false
}

// Validate checks the bitmap can describe n items: it holds at least
// ceil(n/8) bytes and every bit at index n or above is zero.
func (b Bitmap) Validate(n uint32) error {
	if len(b) < BitmapLen(n) {
		return fmt.Errorf("progress map has %d bytes, need %d for %d items", len(b), BitmapLen(n), n)
	}
	for i := int(n / 8); i < len(b); i++ {
		v := b[i]
		if i == int(n/8) {
			// keep only bits at or beyond n within the boundary byte
			v &^= byte(1<<(n%8)) - 1
		}
		if v != 0 {
			return fmt.Errorf("progress map has bits set beyond item count %d", n)
		}
	}
	return nil
}
