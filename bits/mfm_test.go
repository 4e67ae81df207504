package bits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// S2 from spec.md §8: crc16_ccitt("123456789", 9, 0xffff) == 0x29b1.
func TestCRC16CCITT_StandardCheckValue(t *testing.T) {
	got := CRC16CCITT([]byte("123456789"), 0xffff)
	assert.Equal(t, uint16(0x29b1), got)
}

func TestCRC16CCITTByte_MatchesBulk(t *testing.T) {
	data := []byte{0xb2, 0x30, 0x00, 0x02}
	bulk := CRC16CCITT(data, 0xffff)
	byByte := uint16(0xffff)
	for _, b := range data {
		byByte = CRC16CCITTByte(byByte, b)
	}
	assert.Equal(t, bulk, byByte)
}

// Invariant 3 from spec.md §8: CRC self-check residue is zero.
func TestCRC16CCITT_SelfCheckInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		crc := CRC16CCITT(data, 0xffff)
		appended := append(append([]byte{}, data...), byte(crc>>8), byte(crc))
		assert.Equal(t, uint16(0), CRC16CCITT(appended, 0xffff))
	})
}

func TestDecodeWord_EncodeWord_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := uint8(rapid.IntRange(0, 255).Draw(t, "b"))
		prev := rapid.IntRange(0, 1).Draw(t, "prev")
		w := EncodeWord(b, prev)
		assert.Equal(t, b, DecodeWord(w))
	})
}

// S1 from spec.md §8: 0xff encoded via EncodeWord (prev data bit 1, matching
// the preceding sync word's final data bit) decodes back to 0xff.
func TestEncodeWord_DecodeWord_SyncFollower(t *testing.T) {
	w := EncodeWord(0xff, 1)
	assert.Equal(t, uint8(0xff), DecodeWord(w))
}

func TestAmigaDOSChecksum_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 32).Draw(t, "n")
		data := rapid.SliceOfN(rapid.Byte(), n*4, n*4).Draw(t, "data")
		a := AmigaDOSChecksum(data, len(data))
		b := AmigaDOSChecksum(data, len(data))
		assert.Equal(t, a, b)
	})
}

// Invariant 7 from spec.md §8: flipping any single bit changes the result.
// The checksum folds each long as x ^ x>>1 before masking with 0x55555555,
// so a flip of an odd-numbered bit still reaches the unmasked bit below it.
func TestAmigaDOSChecksum_BitFlipChangesResult(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	base := AmigaDOSChecksum(data, len(data))
	for bit := 0; bit < len(data)*8; bit++ {
		flipped := append([]byte{}, data...)
		flipped[bit/8] ^= 1 << uint(7-bit%8)
		assert.NotEqual(t, base, AmigaDOSChecksum(flipped, len(flipped)), "bit %d", bit)
	}
}

func TestDecodeBytes_RejectsZeroLength(t *testing.T) {
	err := DecodeBytes(Raw, 0, []byte{0}, make([]byte, 1))
	assert.Error(t, err)
}

// splitLong breaks a 32-bit AmigaDOS long into its odd/even data-bit
// streams, the forward operation that unshuffle inverts: bit 31 (the
// long's first, MSB data bit) is odd-stream bit 15, bit 30 is even-stream
// bit 15, bit 29 is odd-stream bit 14, and so on.
func splitLong(v uint32) (odd, even uint16) {
	for i := 0; i < 16; i++ {
		odd = (odd << 1) | uint16((v>>uint(31-2*i))&1)
		even = (even << 1) | uint16((v>>uint(30-2*i))&1)
	}
	return odd, even
}

func TestDecodeBytes_MfmEvenOdd_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nLongs := rapid.IntRange(1, 4).Draw(t, "nLongs")
		longs := make([]uint32, nLongs)
		oddHalf := make([]byte, 2*nLongs)
		evenHalf := make([]byte, 2*nLongs)
		for i := range longs {
			v := rapid.Uint32().Draw(t, "long")
			longs[i] = v
			odd, even := splitLong(v)
			oddHalf[2*i] = byte(odd >> 8)
			oddHalf[2*i+1] = byte(odd)
			evenHalf[2*i] = byte(even >> 8)
			evenHalf[2*i+1] = byte(even)
		}
		evenRaw, _ := EncodeBytes(evenHalf, 0)
		oddRaw, _ := EncodeBytes(oddHalf, 0)
		nBytes := 4 * nLongs
		src := append(append([]byte{}, oddRaw...), evenRaw...)
		dst := make([]byte, nBytes)
		err := DecodeBytes(MfmEvenOdd, nBytes, src, dst)
		assert.NoError(t, err)
		for i, v := range longs {
			got := uint32(dst[4*i])<<24 | uint32(dst[4*i+1])<<16 | uint32(dst[4*i+2])<<8 | uint32(dst[4*i+3])
			assert.Equal(t, v, got, "long %d", i)
		}
	})
}

func TestDecodeBytes_MfmEvenOdd_RejectsNonMultipleOf4(t *testing.T) {
	err := DecodeBytes(MfmEvenOdd, 3, make([]byte, 6), make([]byte, 3))
	assert.Error(t, err)
}

func TestCRC32_SelfConsistent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")
		a := CRC32(data)
		b := CRC32Add(data, 0)
		assert.Equal(t, a, b)
	})
}
