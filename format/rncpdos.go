package format

import (
	"encoding/binary"

	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
	"github.com/sergev/fluxdisk/track"
)

// DSKTAGRNCPDOSKey identifies the disk-wide 32-bit decryption key RNC
// PDOS tracks share: disk_get_tag_by_id(d, DSKTAG_rnc_pdos_key) in
// original_source/libdisk/pdos.c. The first successfully decoded sector
// (on any track) brute-forces it from its known header fields; every
// later sector reuses it instead of re-deriving it.
const DSKTAGRNCPDOSKey = 0x0050

const (
	pdosSyncWord    = 0x1448
	pdosSectorSync  = 0x4891
	pdosNrSectors   = 12
	pdosBytesPerSec = 512
	pdosTotalBits   = 105500
)

type rncPDOSHandler struct{}

// NewRNCPDOS returns the Rob Northen Computing Protected DOS handler.
func NewRNCPDOS() track.Handler { return &rncPDOSHandler{} }

func (h *rncPDOSHandler) Name() string           { return "RNC PDOS" }
func (h *rncPDOSHandler) Density() track.Density { return track.DoubleDensity }
func (h *rncPDOSHandler) BytesPerSector() int    { return pdosBytesPerSec }
func (h *rncPDOSHandler) NrSectors() int         { return pdosNrSectors }

func (h *rncPDOSHandler) WriteRaw(d *track.Disk, tracknr int, s *pll.Stream, ti *track.Info) ([]byte, bool) {
	block := make([]byte, pdosBytesPerSec*pdosNrSectors)
	var validBlocks uint32
	full := uint32(1)<<pdosNrSectors - 1

	var key uint32
	haveKey := false
	if d != nil {
		if raw, ok := d.TagByID(DSKTAGRNCPDOSKey); ok && len(raw) == 4 {
			key = binary.BigEndian.Uint32(raw)
			haveKey = true
		}
	}

outer:
	for validBlocks != full {
		if _, err := s.NextBit(); err != nil {
			break
		}
		if uint16(s.Word()) != pdosSyncWord {
			continue
		}
		ti.DataBitoff = int(s.IndexOffset()) - 15

		i := 0
		for ; i < pdosNrSectors; i++ {
			if _, err := s.NextBits(16); err != nil {
				break outer
			}
			if uint16(s.Word()) != pdosSectorSync {
				break
			}

			hdrRaw := make([]byte, 8)
			datRaw := make([]byte, 2*pdosBytesPerSec)
			if err := s.NextBytes(hdrRaw); err != nil {
				break outer
			}
			if err := s.NextBytes(datRaw); err != nil {
				break outer
			}

			hdr, _ := decodeAmigaLongs(hdrRaw, 1)
			dat, csumRaw := decodeAmigaLongs(datRaw, pdosBytesPerSec/4)
			csumMasked := csumRaw & 0x55555555
			csum16 := uint16(csumMasked | (csumMasked >> 15))

			if !haveKey {
				key = (uint32(hdr[0]^byte(i))&0x7f)<<24 |
					uint32(hdr[1]^byte(tracknr))<<16 |
					uint32(hdr[2]^byte(csum16>>8))<<8 |
					uint32(hdr[3]^byte(csum16))
				if d != nil {
					var raw [4]byte
					binary.BigEndian.PutUint32(raw[:], key)
					d.SetTag(DSKTAGRNCPDOSKey, raw[:])
				}
				haveKey = true
			} else {
				hdrVal := binary.BigEndian.Uint32(hdr) ^ key ^ 0x80000000
				var unxor [4]byte
				binary.BigEndian.PutUint32(unxor[:], hdrVal)
				if unxor[0] != byte(i) || unxor[1] != byte(tracknr) ||
					unxor[2] != byte(csum16>>8) || unxor[3] != byte(csum16) {
					break
				}
			}

			k := key
			for j := 0; j < pdosBytesPerSec/4; j++ {
				enc := binary.BigEndian.Uint32(dat[4*j : 4*j+4])
				binary.BigEndian.PutUint32(block[i*pdosBytesPerSec+4*j:], enc^k)
				k = enc
			}

			if _, err := s.NextBits(16); err != nil {
				break outer
			}
			skip := byte(copylockDecodeWord(uint32(uint16(s.Word()))))
			if _, err := s.NextBits(int(skip) * 16); err != nil {
				break outer
			}
		}

		if i == pdosNrSectors {
			validBlocks = full
			break
		}
	}

	if validBlocks == 0 {
		return nil, false
	}
	ti.TotalBits = pdosTotalBits
	ti.ValidSectors = validBlocks
	return block, true
}

func (h *rncPDOSHandler) ReadRaw(d *track.Disk, tracknr int, ti *track.Info, tb *tbuf.Buffer) {
	var key uint32
	if d != nil {
		if raw, ok := d.TagByID(DSKTAGRNCPDOSKey); ok && len(raw) == 4 {
			key = binary.BigEndian.Uint32(raw)
		}
	}

	dat := ti.Dat
	tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 16, pdosSyncWord)

	for i := 0; i < ti.NrSectors; i++ {
		hdr := uint32(i)<<24 | uint32(tracknr&0xff)<<16
		enc := make([]uint32, pdosBytesPerSec/4)

		tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 16, pdosSectorSync)

		k := key
		for j := 0; j < pdosBytesPerSec/4; j++ {
			off := i*pdosBytesPerSec + 4*j
			var plain uint32
			if off+4 <= len(dat) {
				plain = binary.BigEndian.Uint32(dat[off : off+4])
			}
			k ^= plain
			enc[j] = k
		}

		var csum uint32
		for _, w := range enc {
			csum ^= w
		}
		if ti.ValidSectors&(1<<uint(i)) == 0 {
			csum ^= 1
		}
		csum ^= csum >> 1
		hdr |= (csum & 0x5555) | ((csum >> 15) & 0xaaaa)
		hdr ^= key ^ 0x80000000
		tb.Bits(tbuf.DefaultSpeed, tbuf.EvenOdd, 32, hdr)

		encBytes := make([]byte, pdosBytesPerSec)
		for j, w := range enc {
			binary.BigEndian.PutUint32(encBytes[4*j:], w)
		}
		tb.Bytes(tbuf.DefaultSpeed, tbuf.EvenOdd, encBytes)

		// The gap between sectors is itself copylock-word-encoded, giving
		// a 16-bit skip count read back via copylockDecodeWord; the last
		// sector carries no trailing gap.
		skip := uint16(4)
		if i == ti.NrSectors-1 {
			skip = 0
		}
		tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 16, copylockEncodeWord(skip))
		for j := 0; j < int(skip); j++ {
			tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, 0)
		}
	}
}

// copylockEncodeWord is copylockDecodeWord's inverse: it spreads y's 16
// bits across a 32-bit word at stride 2 from the LSB, the layout
// pdos_read_mfm relies on for its inter-sector gap-length marker.
func copylockEncodeWord(y uint16) uint32 {
	var x uint32
	for i := 15; i >= 0; i-- {
		x <<= 2
		x |= uint32((y >> uint(i)) & 1)
	}
	return x
}
