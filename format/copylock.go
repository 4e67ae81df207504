package format

import (
	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
	"github.com/sergev/fluxdisk/track"
)

// copylockSyncList is the per-sector sync marker list of the RobNorthen
// Copylock Amiga protection track; sector index i must be preceded by
// copylockSyncList[i].
var copylockSyncList = [11]uint16{
	0x8a91, 0x8a44, 0x8a45, 0x8a51, 0x8912, 0x8911,
	0x8914, 0x8915, 0x8944, 0x8945, 0x8951,
}

// copylockSec6Sig is "Rob Northen Comp", interrupting sector 6's random
// stream for its first 16 bytes.
var copylockSec6Sig = [8]uint16{
	0x526f, 0x6220, 0x4e6f, 0x7274,
	0x6865, 0x6e20, 0x436f, 0x6d70,
}

// copylockDecodeWord extracts every other bit of x starting at its LSB
// into a 16-bit value. Copylock's cell layout carries data on the
// LSB-aligned stride of a raw window rather than the MSB-aligned one
// bits.DecodeWord expects, so it gets its own extraction here rather than
// reusing that helper.
func copylockDecodeWord(x uint32) uint16 {
	var y uint16
	for i := 0; i < 16; i++ {
		y |= uint16(x&1) << uint(i)
		x >>= 2
	}
	return y
}

type copylockHandler struct{}

// NewCopylock returns the RobNorthen Copylock protection-track handler.
func NewCopylock() track.Handler { return &copylockHandler{} }

func (h *copylockHandler) Name() string           { return "Copylock" }
func (h *copylockHandler) Density() track.Density { return track.DoubleDensity }
func (h *copylockHandler) BytesPerSector() int    { return 512 }
func (h *copylockHandler) NrSectors() int         { return len(copylockSyncList) }

func (h *copylockHandler) WriteRaw(d *track.Disk, tracknr int, s *pll.Stream, ti *track.Info) ([]byte, bool) {
	info := make([]byte, 0, len(copylockSyncList)*(512/8))
	var x uint32
	var key byte
	sync := 0

	for sync < len(copylockSyncList) {
		if _, err := s.NextBit(); err != nil {
			break
		}
		if uint16(s.Word()) != copylockSyncList[sync] {
			continue
		}
		if sync == 0 {
			ti.DataBitoff = int(s.IndexOffset()) - 15
		}

		if _, err := s.NextBits(16); err != nil {
			return nil, false
		}
		if copylockDecodeWord(uint32(uint16(s.Word()))) != uint16(sync) {
			continue
		}

		for j := 0; j < 256; j++ {
			if _, err := s.NextBits(32); err != nil {
				return nil, false
			}
			x = uint32(copylockDecodeWord(s.Word()))

			if sync == 0 && j == 0 {
				key = byte(x >> 9)
			}

			if sync == 6 && j < len(copylockSec6Sig) {
				if uint16(x) != copylockSec6Sig[j] {
					return nil, false
				}
			} else {
				if ((x>>7)^x)&0xf8 != 0 || ((x>>9)^uint32(key))&0x7f != 0 {
					return nil, false
				}
				key = byte(x)
				if j&3 == 0 {
					info = append(info, byte(x>>8))
				}
			}
		}
		sync++
	}

	if sync != len(copylockSyncList) {
		return nil, false
	}
	info = append(info, byte(x<<1))

	ti.ValidSectors = 1<<uint(len(copylockSyncList)) - 1
	return info, true
}

func (h *copylockHandler) ReadRaw(d *track.Disk, tracknr int, ti *track.Info, tb *tbuf.Buffer) {
	dat := ti.Dat
	pos := 0
	word := uint16(dat[pos])
	pos++

	for i, sync := range copylockSyncList {
		speed := uint16(tbuf.DefaultSpeed)
		switch i {
		case 4:
			speed = uint16(tbuf.DefaultSpeed * 94 / 100)
		case 6:
			speed = uint16(tbuf.DefaultSpeed * 106 / 100)
		}

		tb.Bits(speed, tbuf.Raw, 16, uint32(sync))
		tb.Bits(speed, tbuf.All, 8, uint32(i))

		for j := 0; j < 512; j++ {
			if i == 6 && j == 0 {
				// Reuses j (no new binding), exactly as
				// original_source/libdisk/copylock.c's read_mfm does by
				// sharing its C loop variable: the eight signature words
				// stand in for byte positions 0-15, this inner loop exits
				// at j=16, the rest of this pass emits position 16, and
				// the outer loop goes on at j=17, so no position is skipped.
				for j = 0; j < 16; j += 2 {
					tb.Bits(speed, tbuf.All, 16, uint32(copylockSec6Sig[j/2]))
				}
			}
			if j&7 == 0 {
				word = (word << 8) | uint16(dat[pos])
				pos++
			}
			tb.Bits(speed, tbuf.All, 8, uint32(word>>uint(8-(j&7))))
		}

		for j := 0; j < 48; j++ {
			tb.Bits(speed, tbuf.All, 8, 0)
		}
	}
}
