// Package pll turns a back-end's flux-transition timings into a cell-bit
// stream via a software phase-locked loop, the same job sergev-fdx's pll
// package did for a single SCP-flavoured algorithm, generalised here to the
// three PLL modes a track handler may request.
package pll

import (
	"errors"
	"fmt"

	"github.com/sergev/fluxdisk/bits"
)

// ErrEndOfTrack is returned by NextBit/NextBits once five revolutions have
// been consumed, the normal terminator a handler's scan loop watches for.
var ErrEndOfTrack = errors.New("pll: end of track")

// ErrNoTrack is returned by Reset when tracknr has no data in the capture.
var ErrNoTrack = errors.New("pll: track not present in capture")

// Source is the flux back-end a Stream reads from: KryoFlux STREAM, SCP,
// DiscFerret, or an in-memory soft stream built for round-trip tests.
type Source interface {
	// Reset positions the source at the start of tracknr.
	Reset(tracknr int) error
	// NextFlux returns the next flux interval in nanoseconds. ok is false
	// once the back-end has no more data (end of capture, not of track).
	NextFlux() (ns uint32, ok bool)
	// AtIndex reports whether an index pulse coincides with the interval
	// most recently returned by NextFlux.
	AtIndex() bool
}

// Mode selects PLL clock-recovery behaviour. See Stream.NextBit.
type Mode int

const (
	// FixedClock never nudges the clock period; only snapping to the
	// flux transition occurs.
	FixedClock Mode = iota
	// VariableClock nudges the clock by a fraction of each transition's
	// phase error, clamped within +/-10% of the nominal period.
	VariableClock
	// Authentic behaves like VariableClock but leaves half the phase
	// error outstanding instead of re-snapping the window fully to each
	// transition, reproducing real FDC behaviour for weak-bit reads.
	Authentic
)

const (
	clockMaxAdjPct  = 10 // +/- clamp range around the nominal period
	periodAdjFrac   = 10 // 1/10th of phase error nudges the period
	outOfSyncFrac   = 10 // 1/10th of the way back to nominal when desynced
	authenticResidu = 2  // Authentic mode keeps 1/2 the phase error
)

// Stream is a positioned flux reader with PLL-recovered cell bits, the
// stream_t of spec.md §4.2.
type Stream struct {
	src Source

	clkC          float64 // nominal cell period, ns (set_density)
	clk           float64 // current recovered period, ns
	fluxRemaining float64
	zeros         int
	mode          Mode

	word        uint32
	crc16       uint16
	indexOffset uint64
	nrIndex     int
	latency     float64

	trackLenCells uint64
	haveTrackLen  bool
}

// Open produces a stream over src at the given nominal cell width in
// nanoseconds (2000 for DD, 1000 for HD, 4000 for GCR).
func Open(src Source, nsPerCell float64) *Stream {
	return &Stream{
		src:  src,
		clkC: nsPerCell,
		clk:  nsPerCell,
		mode: VariableClock,
	}
}

// SetDensity changes the nominal cell width mid-track, as a handful of
// formats require between their header and data fields.
func (s *Stream) SetDensity(nsPerCell float64) {
	s.clkC = nsPerCell
	s.clk = nsPerCell
}

// PLLMode switches the PLL's clock-recovery behaviour and returns the mode
// that was active beforehand.
func (s *Stream) PLLMode(mode Mode) Mode {
	prev := s.mode
	s.mode = mode
	return prev
}

// Reset positions the stream at the start of tracknr, zeroing word, crc16,
// nr_index and latency.
func (s *Stream) Reset(tracknr int) error {
	if err := s.src.Reset(tracknr); err != nil {
		return fmt.Errorf("pll: reset track %d: %w", tracknr, err)
	}
	s.nrIndex = 0
	s.latency = 0
	s.indexOffset = 0
	s.word = 0
	s.crc16 = 0
	s.fluxRemaining = 0
	s.zeros = 0
	s.clk = s.clkC
	s.haveTrackLen = false
	return nil
}

// StartCRC resets the running CRC-16/CCITT seed; subsequent NextBit/
// NextBits/NextBytes calls keep folding bits into it regardless.
func (s *Stream) StartCRC() {
	s.crc16 = 0xffff
}

// CRC16 returns the current running CRC-16/CCITT value.
func (s *Stream) CRC16() uint16 {
	return s.crc16
}

// Word returns the last 32 decoded cell bits, MSB-first, the sliding window
// handlers match sync marks against.
func (s *Stream) Word() uint32 {
	return s.word
}

// IndexOffset returns the number of cells read since the last index pulse.
func (s *Stream) IndexOffset() uint64 {
	return s.indexOffset
}

// NextBit advances the PLL by one cell and returns the resulting bit.
func (s *Stream) NextBit() (int, error) {
	if s.nrIndex >= 5 {
		return 0, ErrEndOfTrack
	}

	for s.fluxRemaining < s.clk/2 {
		ns, ok := s.src.NextFlux()
		if !ok {
			return 0, ErrEndOfTrack
		}
		s.fluxRemaining += float64(ns)
		s.zeros = 0
		if s.src.AtIndex() {
			s.indexReset()
			if s.nrIndex >= 5 {
				return 0, ErrEndOfTrack
			}
		}
	}

	s.latency += s.clk
	s.fluxRemaining -= s.clk
	s.indexOffset++

	var bit int
	if s.fluxRemaining >= s.clk/2 {
		s.zeros++
		bit = 0
	} else {
		bit = 1
		if s.mode != FixedClock {
			n := s.zeros + 1
			if n >= 1 && n <= 3 {
				s.clk += s.fluxRemaining / float64(n) / periodAdjFrac
			} else {
				s.clk += (s.clkC - s.clk) / outOfSyncFrac
			}
			min := s.clkC * (100 - clockMaxAdjPct) / 100
			max := s.clkC * (100 + clockMaxAdjPct) / 100
			if s.clk < min {
				s.clk = min
			}
			if s.clk > max {
				s.clk = max
			}
		}
		if s.mode == Authentic {
			s.fluxRemaining /= authenticResidu
		} else {
			s.fluxRemaining = 0
		}
		s.zeros = 0
	}

	s.word = (s.word << 1) | uint32(bit)
	s.crc16 = bits.CRC16CCITTBit(bit, s.crc16)
	return bit, nil
}

func (s *Stream) indexReset() {
	s.trackLenCells = s.indexOffset
	s.haveTrackLen = true
	s.indexOffset = 0
	s.nrIndex++
}

// NextBits calls NextBit n times, returning the packed bits MSB-first in
// the low n bits of the result.
func (s *Stream) NextBits(n int) (uint32, error) {
	var w uint32
	for i := 0; i < n; i++ {
		b, err := s.NextBit()
		if err != nil {
			return 0, err
		}
		w = (w << 1) | uint32(b)
	}
	return w, nil
}

// NextBytes reads 8*len(dst) bits, packing MSB-first into dst.
func (s *Stream) NextBytes(dst []byte) error {
	for i := range dst {
		w, err := s.NextBits(8)
		if err != nil {
			return err
		}
		dst[i] = byte(w)
	}
	return nil
}

// NextIndex advances until index_offset rolls over to zero.
func (s *Stream) NextIndex() error {
	for {
		if _, err := s.NextBit(); err != nil {
			return err
		}
		if s.indexOffset == 0 {
			return nil
		}
	}
}

// TrackLenCells returns the cell count of the most recently completed
// revolution, valid only after at least one index pulse has been seen.
func (s *Stream) TrackLenCells() (uint64, bool) {
	return s.trackLenCells, s.haveTrackLen
}
