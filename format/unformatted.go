package format

import (
	"math/rand"

	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
	"github.com/sergev/fluxdisk/track"
)

// unformattedScanBits and unformattedBadThresh drive the "is this white
// noise" heuristic: a window's worth of cells is scanned for sequences
// that break the MFM encoding rules (two consecutive 1-bits, or a run of
// four or more 0-bits), and the track is declared unformatted once a
// tenth of a window's bits are bad.
const (
	unformattedScanBits  = 1000
	unformattedBadThresh = unformattedScanBits / 10
)

type unformattedHandler struct{}

// NewUnformatted returns the fallback handler every disk-side candidate
// list must end with: it never actively identifies a format, only
// confirms a track looks like random noise rather than a recognisable
// one a more specific handler merely failed to parse.
func NewUnformatted() track.Handler { return &unformattedHandler{} }

func (h *unformattedHandler) Name() string           { return track.UnformattedType }
func (h *unformattedHandler) Density() track.Density { return track.DoubleDensity }
func (h *unformattedHandler) BytesPerSector() int    { return 1 }
func (h *unformattedHandler) NrSectors() int         { return 1 }

func (h *unformattedHandler) WriteRaw(d *track.Disk, tracknr int, s *pll.Stream, ti *track.Info) ([]byte, bool) {
	bad, nrZero, i := 0, 0, 0

	for {
		bit, err := s.NextBit()
		if err != nil {
			break
		}

		if bit == 1 {
			if nrZero == 0 {
				bad++
			}
			nrZero = 0
		} else {
			nrZero++
			if nrZero > 3 {
				bad++
			}
		}

		i++
		if i >= unformattedScanBits {
			if bad < unformattedBadThresh {
				return nil, false
			}
			bad, nrZero, i = 0, 0, 0
		}
	}

	ti.TotalBits = track.WeakSentinel
	return []byte{0}, true
}

func (h *unformattedHandler) ReadRaw(d *track.Disk, tracknr int, ti *track.Info, tb *tbuf.Buffer) {
	rng := rand.New(rand.NewSource(int64(tracknr) + 1))
	length := (120000 * (rng.Intn(256) + 1000 - 128)) / 1000

	tb.Init(length, 0, int64(tracknr)+1)

	speedDelta := int32(200)
	var b byte
	for i := 0; i < length; i++ {
		b <<= 1
		b |= byte(tb.Rnd16() & 1)
		if i&7 == 7 {
			tb.Bits(uint16(int32(tbuf.DefaultSpeed)+speedDelta), tbuf.Raw, 8, uint32(b))
			speedDelta = -speedDelta
		}
	}
}
