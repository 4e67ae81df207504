// Package tbuf implements the track-buffer encoder: the write-side
// counterpart to pll.Stream, turning a handler's read_raw calls into a
// packed cell array, a parallel speed map, and a weak-bits bitmap.
package tbuf

import (
	"math/rand"

	"github.com/sergev/fluxdisk/bits"
)

// DataType selects how Bits/Bytes lay data bits into the cell array.
type DataType int

const (
	// Raw writes n cells verbatim, with no clock-bit insertion. Used for
	// sync words, where the whole pattern (including its clock
	// violation) is specified literally.
	Raw DataType = iota
	// All MFM-encodes every data bit of the value (the common case).
	All
	// Even MFM-encodes only the even-numbered data bits of the value.
	Even
	// Odd MFM-encodes only the odd-numbered data bits of the value.
	Odd
	// EvenOdd emits all even-numbered bits first, then all odd-numbered
	// bits: AmigaDOS's split-bitstream layout.
	EvenOdd
	// OddEven is EvenOdd with the halves swapped.
	OddEven
)

// DefaultSpeed is the nominal per-byte speed value (1000 = 100% of
// nominal cell width), used by Finalise's splice fill.
const DefaultSpeed = 1000

// Buffer is the write-side track buffer, the track_buffer of spec.md §4.3.
type Buffer struct {
	Start       int // data_bitoff: where the handler's payload begins
	Pos         int
	Len         int // total_bits
	MFM         []byte
	Speed       []uint16 // one entry per 8 cells (per byte), parts-per-thousand of nominal
	Weak        []byte   // bitmap, same bit layout as MFM; 1 = weak cell
	PrevDataBit int
	crc16       uint16
	prng        *rand.Rand
}

// Init allocates the buffer for totalBits cells, positions pos at
// dataBitoff, and seeds the deterministic PRNG used by Rnd16.
func (tb *Buffer) Init(totalBits, dataBitoff int, prngSeed int64) {
	nBytes := (totalBits + 7) / 8
	tb.Len = totalBits
	tb.Start = dataBitoff
	tb.Pos = dataBitoff
	tb.MFM = make([]byte, nBytes)
	tb.Speed = make([]uint16, nBytes)
	tb.Weak = make([]byte, nBytes)
	tb.PrevDataBit = 0
	tb.crc16 = 0xffff
	tb.prng = rand.New(rand.NewSource(prngSeed))
}

// StartCRC resets the running CRC-16/CCITT seed.
func (tb *Buffer) StartCRC() {
	tb.crc16 = 0xffff
}

// CRC16 returns the current running CRC-16/CCITT value.
func (tb *Buffer) CRC16() uint16 {
	return tb.crc16
}

// SetCRC16 overrides the running CRC-16/CCITT value, for a handler that
// must emit a checksum computed over data other than the cells it just
// wrote (e.g. a weak-bit sector whose CRC is mastered against the clean
// data, not the randomised bytes written to the surrounding cells).
func (tb *Buffer) SetCRC16(v uint16) {
	tb.crc16 = v
}

func changeBit(mfm []byte, bit int, on bool) {
	if on {
		mfm[bit>>3] |= 0x80 >> uint(bit&7)
	} else {
		mfm[bit>>3] &^= 0x80 >> uint(bit&7)
	}
}

// Bits emits n bits of x, clock-encoding them per enc, and records speed
// into the speed map for every byte this call touches.
func (tb *Buffer) Bits(speed uint16, enc DataType, n int, x uint32) {
	if enc == EvenOdd {
		tb.Bits(speed, Even, n, x)
		enc = Odd
	} else if enc == OddEven {
		tb.Bits(speed, Odd, n, x)
		enc = Even
	}

	if n != 8 {
		half := uint(n) >> 1
		tb.Bits(speed, enc, int(half), x>>half)
		tb.Bits(speed, enc, int(half), x)
		return
	}

	if enc == Raw {
		for i := 0; i < 8; i++ {
			b := (x<<uint(i))&0x80 != 0
			if b {
				tb.PrevDataBit = 1
			} else {
				tb.PrevDataBit = 0
			}
			tb.emit(speed, b)
		}
		return
	}

	shift := uint(0)
	if enc == All {
		shift = 1
	}
	xx := x
	if enc == Even {
		xx >>= 1
	}
	for i := 0; i < (8 << shift); i++ {
		sh := uint((i|1)) >> shift
		dataBit := (xx<<sh)&0x80 != 0
		var cell bool
		if i&1 == 0 {
			// Clock bit: set only when neither the preceding data bit
			// nor this one is a 1 (the standard MFM clock-suppression
			// rule).
			cell = tb.PrevDataBit == 0 && !dataBit
		} else {
			cell = dataBit
			if dataBit {
				tb.PrevDataBit = 1
			} else {
				tb.PrevDataBit = 0
			}
		}
		tb.emit(speed, cell)
	}
}

func (tb *Buffer) emit(speed uint16, on bool) {
	changeBit(tb.MFM, tb.Pos, on)
	tb.Speed[tb.Pos>>3] = speed
	tb.crc16 = bits.CRC16CCITTBit(boolToInt(on), tb.crc16)
	tb.Pos++
	if tb.Pos >= tb.Len {
		tb.Pos = 0
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Bytes is Bits applied byte-by-byte; EvenOdd/OddEven split across the
// whole byte run rather than per byte, matching AmigaDOS's layout (every
// even-position bit of the block, then every odd-position bit).
func (tb *Buffer) Bytes(speed uint16, enc DataType, data []byte) {
	if enc == EvenOdd {
		tb.Bytes(speed, Even, data)
		enc = Odd
	} else if enc == OddEven {
		tb.Bytes(speed, Odd, data)
		enc = Even
	}
	for _, b := range data {
		tb.Bits(speed, enc, 8, uint32(b))
	}
}

// EmitCRC16CCITT emits the current running CRC as two MFM-encoded bytes,
// closing an IDAM/DAM per IBM-MFM convention.
func (tb *Buffer) EmitCRC16CCITT(speed uint16) {
	crc := tb.crc16
	tb.Bits(speed, All, 16, uint32(crc))
}

// Gap advances pos by nCells, filling them with an MFM-legal dummy pattern
// (all-zero data bits, normally clock-encoded) so that no spurious sync
// word can form in the gap.
func (tb *Buffer) Gap(speed uint16, nCells int) {
	for nCells >= 16 {
		tb.Bits(speed, All, 8, 0)
		nCells -= 16
	}
	for i := 0; i < nCells; i++ {
		tb.emit(speed, false)
	}
}

// MarkWeak marks the next nCells cells as weak (random at read-back time)
// and advances pos by nCells. The written cell values don't matter; a
// reader re-encoding this track should randomise them independently.
func (tb *Buffer) MarkWeak(speed uint16, nCells int) {
	for i := 0; i < nCells; i++ {
		changeBit(tb.Weak, tb.Pos, true)
		tb.Speed[tb.Pos>>3] = speed
		tb.Pos++
		if tb.Pos >= tb.Len {
			tb.Pos = 0
		}
	}
}

// Rnd16 returns 16 bits from the encoder's deterministic PRNG, for
// handlers that emit randomised data over a weak-bit region.
func (tb *Buffer) Rnd16() uint16 {
	return uint16(tb.prng.Intn(1 << 16))
}

// Finalise fills the gap from pos around to start-1 with legal MFM
// zero-cells, inserting a single 1-cell at the write-splice boundary, and
// finalises the cell array. A no-op if the handler's write_raw call
// already filled the buffer exactly.
func (tb *Buffer) Finalise() {
	if tb.Start == tb.Pos {
		return
	}
	tb.Bits(DefaultSpeed, All, 32, 0)

	pos := tb.Start
	b := false
	for {
		pos--
		if pos < 0 {
			pos += tb.Len
		}
		if pos == tb.Pos {
			break
		}
		changeBit(tb.MFM, pos, b)
		tb.Speed[pos>>3] = DefaultSpeed
		b = !b
	}
}
