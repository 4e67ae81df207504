package format

import (
	"math/rand"

	"github.com/sergev/fluxdisk/bits"
	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
	"github.com/sergev/fluxdisk/track"
)

// weakBitSectorLen and weakBitNrSectors are the Atari ST (IBM-compatible)
// geometry Dungeon Master / Chaos Strikes Back's protection track shares
// with ordinary data tracks: 10 sectors of 512 bytes, cylinder 0, head 1.
const (
	weakBitSectorLen = 512
	weakBitNrSectors = 10
)

// weakBitHandler recognises a single IBM-MFM sector deliberately mastered
// with an ambiguous flux transition at the edge of the FDC's inspection
// window: the MSB of each byte in a 489-byte span reads back as 0 or 1
// unpredictably depending on PLL phase. chaosStrikesBack selects which
// sector (1 or 2, one-based in the name, zero-based internally) carries
// the weak region.
type weakBitHandler struct {
	chaosStrikesBack bool
}

// NewDungeonMasterWeak returns the Dungeon Master weak-sector handler
// (weak bits in sector 1).
func NewDungeonMasterWeak() track.Handler { return &weakBitHandler{chaosStrikesBack: false} }

// NewChaosStrikesBackWeak returns the Chaos Strikes Back variant (weak
// bits in sector 2).
func NewChaosStrikesBackWeak() track.Handler { return &weakBitHandler{chaosStrikesBack: true} }

func (h *weakBitHandler) weakSec() int {
	if h.chaosStrikesBack {
		return 1
	}
	return 0
}

func (h *weakBitHandler) Name() string {
	if h.chaosStrikesBack {
		return "Chaos Strikes Back (weak)"
	}
	return "Dungeon Master (weak)"
}

func (h *weakBitHandler) Density() track.Density { return track.DoubleDensity }
func (h *weakBitHandler) BytesPerSector() int    { return weakBitSectorLen }
func (h *weakBitHandler) NrSectors() int         { return weakBitNrSectors }

func (h *weakBitHandler) WriteRaw(d *track.Disk, tracknr int, s *pll.Stream, ti *track.Info) ([]byte, bool) {
	weakSec := h.weakSec()
	block := make([]byte, weakBitSectorLen*weakBitNrSectors)
	for i := range block {
		block[i] = 0xe5
	}

	var validBlocks uint32
	full := uint32(1)<<weakBitNrSectors - 1

	for validBlocks != full {
		if _, err := s.NextBit(); err != nil {
			break
		}
		idxOff := int(s.IndexOffset()) - 31

		if s.Word() != ibmSyncRaw {
			continue
		}
		s.StartCRC()
		if _, err := s.NextBits(32); err != nil {
			break
		}
		if s.Word() != 0x44890000|ibmIDAMMark {
			continue
		}

		if _, err := s.NextBits(32); err != nil {
			break
		}
		cyl := bits.DecodeWord(uint16(s.Word() >> 16))
		head := bits.DecodeWord(uint16(s.Word()))
		if _, err := s.NextBits(32); err != nil {
			break
		}
		sec := bits.DecodeWord(uint16(s.Word() >> 16))
		no := bits.DecodeWord(uint16(s.Word()))
		sz := 128 << no
		if _, err := s.NextBits(32); err != nil {
			break
		}
		if cyl != 0 || head != 1 || sz != weakBitSectorLen || s.CRC16() != 0 {
			continue
		}

		sector := int(sec) - 1
		if sector < 0 || sector >= weakBitNrSectors || validBlocks&(1<<uint(sector)) != 0 {
			continue
		}

		found := false
		for {
			if _, err := s.NextBit(); err != nil {
				break
			}
			if s.Word() == ibmSyncRaw {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		s.StartCRC()
		if _, err := s.NextBits(32); err != nil {
			break
		}
		if s.Word() != 0x44890000|ibmDAMMark {
			continue
		}
		crcAtDAM := s.CRC16()

		raw := make([]byte, 2*514)
		var dat []byte
		if sector == weakSec {
			old := s.PLLMode(pll.Authentic)
			err := s.NextBytes(raw)
			s.PLLMode(old)
			if err != nil {
				break
			}
			dat = make([]byte, 514)
			_ = bits.DecodeBytes(bits.Mfm, 514, raw, dat)

			i := 20
			for ; i < 509; i++ {
				dat[i] &= 0x7f
				if dat[i] != 0x68 {
					break
				}
			}
			if i != 509 {
				continue
			}
			if bits.CRC16CCITT(dat, crcAtDAM) != 0 {
				continue
			}
		} else {
			if err := s.NextBytes(raw); err != nil {
				break
			}
			if s.CRC16() != 0 {
				continue
			}
			dat = make([]byte, 514)
			_ = bits.DecodeBytes(bits.Mfm, 514, raw, dat)
		}

		copy(block[sector*weakBitSectorLen:], dat[:weakBitSectorLen])
		validBlocks |= 1 << uint(sector)
		if sector == 0 {
			ti.DataBitoff = idxOff
		}
	}

	if validBlocks&(1<<uint(weakSec)) == 0 {
		return nil, false
	}
	ti.ValidSectors = validBlocks
	return block, true
}

func (h *weakBitHandler) ReadRaw(d *track.Disk, tracknr int, ti *track.Info, tb *tbuf.Buffer) {
	dat := ti.Dat
	weakSec := h.weakSec()
	cyl, hd, no := byte(0), byte(1), byte(2)
	rng := rand.New(rand.NewSource(1))

	for sec := 0; sec < weakBitNrSectors; sec++ {
		tb.StartCRC()
		tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 32, ibmSyncRaw)
		tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 32, 0x44890000|ibmIDAMMark)
		tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, uint32(cyl))
		tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, uint32(hd))
		tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, uint32(sec+1))
		tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, uint32(no))
		tb.EmitCRC16CCITT(tbuf.DefaultSpeed)
		for i := 0; i < 22; i++ {
			tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, 0x4e)
		}
		for i := 0; i < 12; i++ {
			tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, 0x00)
		}

		tb.StartCRC()
		tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 32, ibmSyncRaw)
		tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 32, 0x44890000|ibmDAMMark)

		var sectorData []byte
		if (sec+1)*weakBitSectorLen <= len(dat) {
			sectorData = dat[sec*weakBitSectorLen : (sec+1)*weakBitSectorLen]
		} else {
			sectorData = make([]byte, weakBitSectorLen)
		}

		if sec == weakSec {
			// CRC is computed over the clean (non-randomised) data, seeded
			// from the running CRC as it stands right after the DAM sync.
			crc := bits.CRC16CCITT(sectorData, tb.CRC16())
			tb.Bytes(tbuf.DefaultSpeed, tbuf.All, sectorData[:32])
			for i := 0; i < weakBitSectorLen-64; i++ {
				v := uint32(0xe8)
				if rng.Intn(2) == 0 {
					v = 0x68
				}
				tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, v)
			}
			tb.Bytes(tbuf.DefaultSpeed, tbuf.All, sectorData[weakBitSectorLen-32:])
			// The cells just emitted for the randomised span don't fold
			// into a CRC that matches the clean data: restore the
			// precomputed value before emitting the checksum field.
			tb.SetCRC16(crc)
		} else {
			tb.Bytes(tbuf.DefaultSpeed, tbuf.All, sectorData)
		}
		tb.EmitCRC16CCITT(tbuf.DefaultSpeed)

		for i := 0; i < 40; i++ {
			tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, 0x4e)
		}
		for i := 0; i < 12; i++ {
			tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, 0x00)
		}
	}
}
