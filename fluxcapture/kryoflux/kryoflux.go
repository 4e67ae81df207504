// Package kryoflux decodes KryoFlux STREAM captures: the byte-oriented
// flux-delta opcode encoding and its Out-Of-Band index/info blocks. The
// opcode table mirrors a KryoFlux STREAM decoder's own
// findEndOfStream/decodePulses/decodeFlux logic, with every live-USB-device
// command/response concern dropped — this package never opens a serial
// port, it only reads the STREAM files a capture run already produced on
// disk.
package kryoflux

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sergev/fluxdisk/pll"
)

const (
	opFlux2Max = 0x07
	opNop1     = 0x08
	opNop2     = 0x09
	opNop3     = 0x0a
	opOvl16    = 0x0b
	opFlux3    = 0x0c
	opOOB      = 0x0d
	opFlux1Min = 0x0e

	oobEOF        = 0x0d
	oobStreamInfo = 0x01
	oobIndex      = 0x02
	oobStreamEnd  = 0x03
	oobKFInfo     = 0x04

	overflowAdd = 0x10000

	// DefaultSampleClock is the KryoFlux board's nominal master sample
	// clock in Hz, the divisor every accumulated tick count is converted
	// against to get nanoseconds.
	DefaultSampleClock = 24027428.5714285

	maxCylinders = 84
	sidesPerDisk = 2
)

// trackStream holds one track's raw STREAM bytes. Index positions are
// located lazily by NextFlux as it walks the opcodes, rather than in a
// separate pre-pass; Reset restarts that walk from the first byte.
type trackStream struct {
	data []byte
}

// Source is a pll.Source over a directory of per-track KryoFlux STREAM
// files, one per tracknr = cylinder*2+side, named "%02d.%d.raw" the way the
// DTC capture tool lays a dump out on disk.
type Source struct {
	tracks map[int]*trackStream

	cur     *trackStream
	pos     int
	accum   uint64
	atIndex bool
}

// Open reads every "%02d.%d.raw" file present in dir into memory.
func Open(dir string) (*Source, error) {
	s := &Source{tracks: make(map[int]*trackStream)}
	for cyl := 0; cyl < maxCylinders; cyl++ {
		for side := 0; side < sidesPerDisk; side++ {
			path := filepath.Join(dir, fmt.Sprintf("%02d.%d.raw", cyl, side))
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("kryoflux: %w", err)
			}
			s.tracks[cyl*sidesPerDisk+side] = &trackStream{data: data}
		}
	}
	if len(s.tracks) == 0 {
		return nil, fmt.Errorf("kryoflux: no capture files found in %s", dir)
	}
	return s, nil
}

// Reset positions the Source at the start of tracknr's captured stream.
func (s *Source) Reset(tracknr int) error {
	ts, ok := s.tracks[tracknr]
	if !ok {
		return pll.ErrNoTrack
	}
	s.cur = ts
	s.pos = 0
	s.accum = 0
	s.atIndex = false
	return nil
}

// NextFlux decodes opcodes until a Flux1/Flux2/Flux3 value closes out an
// interval, folding any Ovl16 overflow and skipping Nop/OOB opcodes along
// the way, then converts the resulting tick count to nanoseconds via
// DefaultSampleClock. An OOB Index block marks AtIndex true for whichever
// interval is returned next, the same way a real transition following an
// index pulse is reported by the hardware.
func (s *Source) NextFlux() (uint32, bool) {
	if s.cur == nil {
		return 0, false
	}
	data := s.cur.data
	s.atIndex = false

	for {
		if s.pos >= len(data) {
			return 0, false
		}
		val := data[s.pos]

		switch {
		case val <= opFlux2Max:
			if s.pos+1 >= len(data) {
				return 0, false
			}
			ticks := uint64(val)<<8 | uint64(data[s.pos+1])
			s.pos += 2
			return s.emit(ticks)

		case val == opNop1:
			s.pos++

		case val == opNop2:
			s.pos += 2

		case val == opNop3:
			s.pos += 3

		case val == opOvl16:
			s.accum += overflowAdd
			s.pos++

		case val == opFlux3:
			if s.pos+2 >= len(data) {
				return 0, false
			}
			ticks := uint64(data[s.pos+1])<<8 | uint64(data[s.pos+2])
			s.pos += 3
			return s.emit(ticks)

		case val == opOOB:
			if s.pos+4 > len(data) {
				return 0, false
			}
			oobType := data[s.pos+1]
			if oobType == oobEOF {
				return 0, false
			}
			oobSize := int(data[s.pos+2]) | int(data[s.pos+3])<<8
			if s.pos+4+oobSize > len(data) {
				return 0, false
			}
			if oobType == oobIndex {
				s.atIndex = true
			}
			s.pos += 4 + oobSize

		default: // val >= opFlux1Min
			s.pos++
			return s.emit(uint64(val))
		}
	}
}

func (s *Source) emit(ticks uint64) (uint32, bool) {
	total := s.accum + ticks
	s.accum = 0
	ns := uint64(float64(total) * 1e9 / DefaultSampleClock)
	return uint32(ns), true
}

func (s *Source) AtIndex() bool {
	return s.atIndex
}
