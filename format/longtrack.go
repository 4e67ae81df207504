package format

import (
	"encoding/binary"

	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
	"github.com/sergev/fluxdisk/track"
)

// longTrackAmnios and longTrackLotus are the two custom long protection
// tracks this handler recognises, stored as the 2-byte payload
// original_source/libdisk/longtrack.c calls TRKTYP_longtrack's "type".
const (
	longTrackAmnios = 0
	longTrackLotus  = 1
)

// checkSequence consumes up to nr-1 more 16-bit words, each expected to
// decode (via copylockDecodeWord, truncated to a byte) to want. Returns
// false as soon as one doesn't match or the stream runs out.
func checkSequence(s *pll.Stream, nr int, want byte) bool {
	for {
		nr--
		if nr == 0 {
			return true
		}
		if _, err := s.NextBits(16); err != nil {
			return false
		}
		if byte(copylockDecodeWord(s.Word())) != want {
			return false
		}
	}
}

type longTrackHandler struct{}

// NewLongTrack returns the handler for long, gap-filling protection
// tracks (Amnios/Archipelagos's repeated 0x33 filler, Lotus's all-zero
// filler after a doubled sync).
func NewLongTrack() track.Handler { return &longTrackHandler{} }

func (h *longTrackHandler) Name() string           { return "Long Track" }
func (h *longTrackHandler) Density() track.Density { return track.DoubleDensity }
func (h *longTrackHandler) BytesPerSector() int    { return 2 }
func (h *longTrackHandler) NrSectors() int         { return 1 }

func (h *longTrackHandler) GetName(ti *track.Info) string {
	if len(ti.Dat) >= 2 && binary.BigEndian.Uint16(ti.Dat) == longTrackLotus {
		return "Long Track (Lotus)"
	}
	return "Long Track (Amnios)"
}

func (h *longTrackHandler) WriteRaw(d *track.Disk, tracknr int, s *pll.Stream, ti *track.Info) ([]byte, bool) {
	for {
		if _, err := s.NextBit(); err != nil {
			return nil, false
		}

		switch s.Word() {
		case 0x4454a525:
			if !checkSequence(s, 1000, 0x33) {
				continue
			}
			ti.DataBitoff = int(s.IndexOffset()) - 31
			ti.TotalBits = 110000
			dat := make([]byte, 2)
			binary.BigEndian.PutUint16(dat, longTrackAmnios)
			return dat, true

		case 0x41244124:
			if !checkSequence(s, 1000, 0x00) {
				continue
			}
			ti.DataBitoff = int(s.IndexOffset()) - 31
			ti.TotalBits = 105500
			dat := make([]byte, 2)
			binary.BigEndian.PutUint16(dat, longTrackLotus)
			return dat, true
		}
	}
}

func (h *longTrackHandler) ReadRaw(d *track.Disk, tracknr int, ti *track.Info, tb *tbuf.Buffer) {
	typ := uint16(longTrackAmnios)
	if len(ti.Dat) >= 2 {
		typ = binary.BigEndian.Uint16(ti.Dat)
	}

	switch typ {
	case longTrackLotus:
		tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 32, 0x41244124)
		for i := 0; i < 6000; i++ {
			tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, 0)
		}
	default:
		tb.Bits(tbuf.DefaultSpeed, tbuf.Raw, 16, 0x4454)
		for i := 0; i < 6000; i++ {
			tb.Bits(tbuf.DefaultSpeed, tbuf.All, 8, 0x33)
		}
	}
}
