package format

import (
	"math"

	"github.com/sergev/fluxdisk/bits"
	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
	"github.com/sergev/fluxdisk/track"
)

// IBM System/34 MFM constants (original_source/libdisk/ibm_pc.c): ID
// Address Mark and Data Address Mark are each the 0xa1 sync pattern
// (clock-forced to 0x4489) followed by a one-byte identifier; the Index
// Address Mark uses the 0xc2 sync pattern (clock-forced to 0x5224).
const (
	ibmIAMRaw    = 0x52245224
	ibmIAMMark   = 0x52245552
	ibmIDAMMark  = 0x5554
	ibmDAMMark   = 0x5545
	ibmSyncRaw   = 0x44894489
	ibmSectorLen = 512
)

func ibmScanMark(s *pll.Stream, mark uint16, maxScan int) (int, bool) {
	for {
		if s.Word() == ibmSyncRaw {
			s.StartCRC()
			if _, err := s.NextBits(32); err != nil {
				return 0, false
			}
			if s.Word() != 0x44890000|uint32(mark) {
				return 0, false
			}
			idx := int(s.IndexOffset()) - 63
			if idx < 0 {
				if trackLen, ok := s.TrackLenCells(); ok {
					idx += int(trackLen)
				}
			}
			return idx, true
		}
		if _, err := s.NextBit(); err != nil {
			return 0, false
		}
		maxScan--
		if maxScan <= 0 {
			return 0, false
		}
	}
}

func ibmScanIDAM(s *pll.Stream) (int, bool) { return ibmScanMark(s, ibmIDAMMark, math.MaxInt32) }
func ibmScanDAM(s *pll.Stream) (int, bool)  { return ibmScanMark(s, ibmDAMMark, 1000) }

// ibmMFMHandler recognises IBM System/34 formatted tracks, 9 sectors at
// double density or 18 at high density, 512 bytes/sector.
type ibmMFMHandler struct {
	density   track.Density
	nrSectors int
}

// NewIBMMFMDD returns the 9-sector double-density IBM-MFM handler.
func NewIBMMFMDD() track.Handler {
	return &ibmMFMHandler{density: track.DoubleDensity, nrSectors: 9}
}

// NewIBMMFMHD returns the 18-sector high-density IBM-MFM handler.
func NewIBMMFMHD() track.Handler {
	return &ibmMFMHandler{density: track.HighDensity, nrSectors: 18}
}

func (h *ibmMFMHandler) Name() string {
	if h.density == track.HighDensity {
		return "IBM-MFM HD"
	}
	return "IBM-MFM DD"
}

func (h *ibmMFMHandler) Density() track.Density { return h.density }
func (h *ibmMFMHandler) BytesPerSector() int    { return ibmSectorLen }
func (h *ibmMFMHandler) NrSectors() int         { return h.nrSectors }

func (h *ibmMFMHandler) WriteRaw(d *track.Disk, tracknr int, s *pll.Stream, ti *track.Info) ([]byte, bool) {
	var iam bool
	for !iam {
		if _, err := s.NextBit(); err != nil {
			break
		}
		if s.Word() != ibmIAMRaw {
			continue
		}
		if _, err := s.NextBits(32); err != nil {
			break
		}
		iam = s.Word() == ibmIAMMark
	}
	if err := s.Reset(tracknr); err != nil {
		return nil, false
	}

	block := make([]byte, ibmSectorLen*h.nrSectors+1)
	var validBlocks uint32
	full := uint32(1)<<h.nrSectors - 1

	for validBlocks != full {
		if _, err := s.NextBit(); err != nil {
			break
		}
		idxOff, ok := ibmScanIDAM(s)
		if !ok {
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
			break // consumes the IDAM's own CRC16, already folded into s.CRC16()
		}
		if int(cyl) != tracknr/2 || int(head) != tracknr&1 || sz != ibmSectorLen || s.CRC16() != 0 {
			continue
		}

		sector := int(sec) - 1
		if sector < 0 || sector >= h.nrSectors || validBlocks&(1<<uint(sector)) != 0 {
			continue
		}

		if _, ok := ibmScanDAM(s); !ok {
			continue
		}
		raw := make([]byte, 2*(ibmSectorLen+2))
		if err := s.NextBytes(raw); err != nil {
			break
		}
		if s.CRC16() != 0 {
			continue
		}

		data := make([]byte, ibmSectorLen)
		_ = bits.DecodeBytes(bits.Mfm, ibmSectorLen, raw[:2*ibmSectorLen], data)
		copy(block[sector*ibmSectorLen:], data)
		validBlocks |= 1 << uint(sector)
		if sector == 0 {
			ti.DataBitoff = idxOff
		}
	}

	if validBlocks == 0 {
		return nil, false
	}

	block[len(block)-1] = boolToByte(iam)
	if iam {
		ti.DataBitoff = 80 * 16
	} else {
		ti.DataBitoff = 140 * 16
	}
	ti.ValidSectors = validBlocks
	return block, true
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (h *ibmMFMHandler) ReadRaw(d *track.Disk, tracknr int, ti *track.Info, tb *tbuf.Buffer) {
	dat := ti.Dat
	cyl, hd, no := byte(tracknr/2), byte(tracknr&1), byte(2)
	iam := len(dat) > 0 && dat[len(dat)-1] != 0

	gap4 := 80
	if h.density == track.HighDensity {
		gap4 = 108
	}

	if iam {
		for i := 0; i < 12; i++ {
			tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, 0x00)
		}
		tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 32, ibmIAMRaw)
		tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 32, ibmIAMMark)
		for i := 0; i < gap4; i++ {
			tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, 0x4e)
		}
	}

	for sec := 0; sec < h.nrSectors; sec++ {
		for i := 0; i < 12; i++ {
			tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, 0x00)
		}
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
		if (sec+1)*ibmSectorLen <= len(dat) {
			sectorData = dat[sec*ibmSectorLen : (sec+1)*ibmSectorLen]
		} else {
			sectorData = make([]byte, ibmSectorLen)
		}
		tb.Bytes(tbuf.DefaultSpeed, tbuf.All, sectorData)
		tb.EmitCRC16CCITT(tbuf.DefaultSpeed)
		for i := 0; i < gap4; i++ {
			tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, 0x4e)
		}
	}
}
