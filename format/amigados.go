package format

import (
	"encoding/binary"

	"github.com/sergev/fluxdisk/bits"
	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
	"github.com/sergev/fluxdisk/track"
)

const (
	adosSyncWord      = 0x44894489
	adosBytesPerBlock = 512
	adosBlocksPerTrack = 11
	// adosHeaderRawLen is the raw MFM byte count of one sector's header +
	// data region: info(8) + lbl(32) + hdr_checksum(8) + dat_checksum(8)
	// + data(1024).
	adosHeaderRawLen = 8 + 32 + 8 + 8 + 2*adosBytesPerBlock
)

// amigaDOSHandler recognises plain and labelled AmigaDOS tracks. Both
// variants share one scan; which one a given track actually is can only
// be known after decoding a sector (whether its 16-byte label is
// all-zero), so two instances of this handler are registered, each
// claiming the track only if the scan's outcome matches its own variant.
type amigaDOSHandler struct {
	labelled bool
}

// NewAmigaDOS returns the plain 11x512-byte AmigaDOS handler.
func NewAmigaDOS() track.Handler { return &amigaDOSHandler{labelled: false} }

// NewAmigaDOSLabelled returns the 11x(16+512)-byte labelled variant.
func NewAmigaDOSLabelled() track.Handler { return &amigaDOSHandler{labelled: true} }

func (h *amigaDOSHandler) Name() string {
	if h.labelled {
		return "AmigaDOS w/Labels"
	}
	return "AmigaDOS"
}

func (h *amigaDOSHandler) Density() track.Density { return track.DoubleDensity }

func (h *amigaDOSHandler) BytesPerSector() int {
	if h.labelled {
		return adosBytesPerBlock + 16
	}
	return adosBytesPerBlock
}

func (h *amigaDOSHandler) NrSectors() int { return adosBlocksPerTrack }

// decodeAmigaLongs MFM-decodes raw (8*nLongs bytes: nLongs raw-even words
// followed by nLongs raw-odd words) into 4*nLongs plain bytes, and also
// returns the unmasked XOR of the raw (pre-decode) 32-bit even/odd cell
// words per long — the side-channel original_source's mfm_decode_amigados
// folds into its checksum return value.
func decodeAmigaLongs(raw []byte, nLongs int) ([]byte, uint32) {
	decoded := make([]byte, 4*nLongs)
	_ = bits.DecodeBytes(bits.MfmEvenOdd, 4*nLongs, raw, decoded)
	var xor uint32
	for i := 0; i < nLongs; i++ {
		evenWord := binary.BigEndian.Uint32(raw[4*i : 4*i+4])
		oddWord := binary.BigEndian.Uint32(raw[4*nLongs+4*i : 4*nLongs+4*i+4])
		xor ^= evenWord ^ oddWord
	}
	return decoded, xor
}

func (h *amigaDOSHandler) WriteRaw(d *track.Disk, tracknr int, s *pll.Stream, ti *track.Info) ([]byte, bool) {
	block := make([]byte, (adosBytesPerBlock+16)*adosBlocksPerTrack)
	placeholder := []byte("NDOS")
	for i := 0; i+4 <= len(block); i += 4 {
		copy(block[i:i+4], placeholder)
	}

	var validBlocks, labelledBlocks uint32
	full := uint32(1)<<adosBlocksPerTrack - 1

	for validBlocks != full {
		if _, err := s.NextBit(); err != nil {
			break
		}
		if s.Word() != adosSyncWord {
			continue
		}

		idxOff := s.IndexOffset()
		raw := make([]byte, adosHeaderRawLen)
		if err := s.NextBytes(raw); err != nil {
			break
		}

		info, csum := decodeAmigaLongs(raw[0:8], 1)
		lbl, csumLbl := decodeAmigaLongs(raw[8:40], 4)
		_, csumHdr := decodeAmigaLongs(raw[40:48], 1)
		csum ^= csumLbl ^ csumHdr
		if csum&0x55555555 != 0 {
			continue
		}

		_, csumDatCk := decodeAmigaLongs(raw[48:56], 1)
		data, csumDat := decodeAmigaLongs(raw[56:], adosBytesPerBlock/4)
		if (csumDatCk^csumDat)&0x55555555 != 0 {
			continue
		}

		format, trk, sector := info[0], info[1], info[2]
		if format != 0xff || int(trk) != tracknr || int(sector) >= adosBlocksPerTrack {
			continue
		}
		if validBlocks&(1<<sector) != 0 {
			continue
		}

		for _, b := range lbl {
			if b != 0 {
				labelledBlocks |= 1 << sector
				break
			}
		}

		p := int(sector) * (adosBytesPerBlock + 16)
		copy(block[p:p+16], lbl)
		copy(block[p+16:p+16+adosBytesPerBlock], data)

		if sector == 0 || validBlocks&(1<<(sector-1)) == 0 {
			ti.DataBitoff = int(idxOff)
		}
		validBlocks |= 1 << sector
	}

	if validBlocks == 0 {
		return nil, false
	}
	if (labelledBlocks != 0) != h.labelled {
		return nil, false
	}

	out := block
	if !h.labelled {
		out = make([]byte, adosBytesPerBlock*adosBlocksPerTrack)
		for i := 0; i < adosBlocksPerTrack; i++ {
			src := block[i*(adosBytesPerBlock+16)+16 : i*(adosBytesPerBlock+16)+16+adosBytesPerBlock]
			copy(out[i*adosBytesPerBlock:], src)
		}
	}

	ti.ValidSectors = validBlocks
	firstValid := 0
	for ; firstValid < adosBlocksPerTrack; firstValid++ {
		if validBlocks&(1<<firstValid) != 0 {
			break
		}
	}
	ti.DataBitoff -= firstValid*544 + 31

	return out, true
}

func writeAmigaDOSChecksum(tb *tbuf.Buffer, csum uint32) {
	csum ^= csum >> 1
	csum &= 0x55555555
	tb.Bits(tbuf.DefaultSpeed, tbuf.EvenOdd, 32, csum)
}

func (h *amigaDOSHandler) ReadRaw(d *track.Disk, tracknr int, ti *track.Info, tb *tbuf.Buffer) {
	tb.Init(ti.TotalBits, ti.DataBitoff, int64(tracknr)+1)

	dat := ti.Dat
	for i := 0; i < adosBlocksPerTrack; i++ {
		tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 32, adosSyncWord)

		info := uint32(0xff)<<24 | uint32(tracknr&0xff)<<16 | uint32(i)<<8 | uint32(adosBlocksPerTrack-i)
		tb.Bits(tbuf.DefaultSpeed, tbuf.EvenOdd, 32, info)

		var lbl [16]byte
		if h.labelled && len(dat) >= 16 {
			copy(lbl[:], dat[:16])
			dat = dat[16:]
		}
		tb.Bytes(tbuf.DefaultSpeed, tbuf.EvenOdd, lbl[:])

		hdrCsum := info
		for j := 0; j < 4; j++ {
			hdrCsum ^= binary.BigEndian.Uint32(lbl[4*j : 4*j+4])
		}
		writeAmigaDOSChecksum(tb, hdrCsum)

		var sectorData [adosBytesPerBlock]byte
		if len(dat) >= adosBytesPerBlock {
			copy(sectorData[:], dat[:adosBytesPerBlock])
			dat = dat[adosBytesPerBlock:]
		}

		var datCsum uint32
		for j := 0; j < adosBytesPerBlock/4; j++ {
			datCsum ^= binary.BigEndian.Uint32(sectorData[4*j : 4*j+4])
		}
		if ti.ValidSectors&(1<<i) == 0 {
			datCsum ^= 1
		}
		writeAmigaDOSChecksum(tb, datCsum)

		tb.Bytes(tbuf.DefaultSpeed, tbuf.EvenOdd, sectorData[:])
		tb.Bits(tbuf.DefaultSpeed, tbuf.All, 16, 0)
	}

	tb.Finalise()
}
