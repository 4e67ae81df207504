// Package scp reads SuperCard Pro .scp flux capture files: the 16-byte
// disk_header, the 168-entry track-offset table, and per-track TRK headers
// with their big-endian flux-sample arrays, from original_source/scp/scp.h,
// scp_write.c and scp_dump.c. It is a pure file reader with no device code
// at all, unlike a live SCP USB client that never parses this file format.
package scp

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/sergev/fluxdisk/pll"
)

const (
	maxTracks      = 168
	diskHeaderLen  = 16
	trackHdrSigLen = 3
	revHdrLen      = 12 // duration, nr_samples, offset, all uint32 LE

	tickNs = 25 // one flux-sample tick is 25ns

	overflowAdd = 0x10000 // added to the accumulator on a 0x0000 sample
)

const (
	flagIndexCued  = 1 << 0
	flag96TPI      = 1 << 1
	flag360RPM     = 1 << 2
	flagNormalized = 1 << 3
	flagWritable   = 1 << 4
	flagFooter     = 1 << 5
)

// DiskType mirrors scp.h's disk_type byte. Only the Amiga value is named
// here; the byte is stored as read and nothing in this module interprets it.
type DiskType uint8

const DiskTypeAmiga DiskType = 4

// Header holds the fields of the 16-byte disk_header that Open keeps; the
// "SCP" signature and bytes 10-11 (heads, resolution) are not stored.
type Header struct {
	Version        uint8
	DiskType       DiskType
	NrRevolutions  uint8
	StartTrack     uint8
	EndTrack       uint8
	Flags          uint8
	CellWidth      uint8
	Checksum       uint32
}

// revolution is one entry of a TRK track_header's rev[] array.
type revolution struct {
	durationTicks uint32
	nrSamples     uint32
	offset        uint32 // relative to the start of this track's TRK header
}

type trackData struct {
	revs    []revolution
	samples []uint16 // big-endian-decoded flux samples, in 25ns ticks, for the whole track
}

// Source is a pll.Source reading flux timings out of a parsed .scp file.
type Source struct {
	hdr    Header
	tracks [maxTracks]*trackData // nil where the track-offset table entry was 0

	cur     *trackData
	revIdx  int
	sampIdx int
	accum   uint32 // overflow accumulator, added into the next real sample
	atIndex bool
}

// Open reads and validates filename as an .scp capture.
func Open(filename string) (*Source, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("scp: %w", err)
	}
	if len(raw) < diskHeaderLen+maxTracks*4 {
		return nil, fmt.Errorf("scp: file too short to hold a header and offset table")
	}
	if string(raw[0:3]) != "SCP" {
		return nil, fmt.Errorf("scp: bad signature")
	}

	var sum uint32
	for _, b := range raw[0x10:] {
		sum += uint32(b)
	}
	wantChecksum := binary.LittleEndian.Uint32(raw[12:16])
	if sum != wantChecksum {
		return nil, fmt.Errorf("scp: checksum mismatch: file says %#x, computed %#x", wantChecksum, sum)
	}

	hdr := Header{
		Version:       raw[3],
		DiskType:      DiskType(raw[4]),
		NrRevolutions: raw[5],
		StartTrack:    raw[6],
		EndTrack:      raw[7],
		Flags:         raw[8],
		CellWidth:     raw[9],
		Checksum:      wantChecksum,
	}

	s := &Source{hdr: hdr}

	offTable := raw[diskHeaderLen : diskHeaderLen+maxTracks*4]
	for i := 0; i < maxTracks; i++ {
		off := binary.LittleEndian.Uint32(offTable[i*4 : i*4+4])
		if off == 0 {
			continue
		}
		td, err := parseTrack(raw, int(off), int(hdr.NrRevolutions))
		if err != nil {
			return nil, fmt.Errorf("scp: track %d: %w", i, err)
		}
		s.tracks[i] = td
	}

	return s, nil
}

func parseTrack(raw []byte, off, nrRevs int) (*trackData, error) {
	if off+4+nrRevs*revHdrLen > len(raw) {
		return nil, fmt.Errorf("track header out of range")
	}
	if string(raw[off:off+trackHdrSigLen]) != "TRK" {
		return nil, fmt.Errorf("bad TRK signature")
	}

	td := &trackData{revs: make([]revolution, nrRevs)}
	p := off + 4
	maxEnd := 0
	for r := 0; r < nrRevs; r++ {
		duration := binary.LittleEndian.Uint32(raw[p : p+4])
		nrSamples := binary.LittleEndian.Uint32(raw[p+4 : p+8])
		relOff := binary.LittleEndian.Uint32(raw[p+8 : p+12])
		td.revs[r] = revolution{durationTicks: duration, nrSamples: nrSamples, offset: relOff}
		p += revHdrLen

		end := off + int(relOff) + int(nrSamples)*2
		if end > maxEnd {
			maxEnd = end
		}
	}
	if maxEnd > len(raw) {
		return nil, fmt.Errorf("flux sample data out of range")
	}

	for r := 0; r < nrRevs; r++ {
		rv := td.revs[r]
		base := off + int(rv.offset)
		for i := 0; i < int(rv.nrSamples); i++ {
			v := binary.BigEndian.Uint16(raw[base+i*2 : base+i*2+2])
			td.samples = append(td.samples, v)
		}
	}
	return td, nil
}

// Reset positions the Source at the start of tracknr, the scp on-disk track
// index (0-based, original_source's start_track/end_track convention).
func (s *Source) Reset(tracknr int) error {
	if tracknr < 0 || tracknr >= maxTracks || s.tracks[tracknr] == nil {
		return pll.ErrNoTrack
	}
	s.cur = s.tracks[tracknr]
	s.revIdx = 0
	s.sampIdx = 0
	s.accum = 0
	s.atIndex = false
	return nil
}

// NextFlux returns the next flux interval in nanoseconds, chaining samples
// across however many revolutions the capture holds. A stored sample value
// of 0 is scp's overflow marker: it contributes overflowAdd ticks to the
// running accumulator rather than a transition of its own.
func (s *Source) NextFlux() (uint32, bool) {
	if s.cur == nil {
		return 0, false
	}
	s.atIndex = false
	for {
		if s.sampIdx >= len(s.cur.samples) {
			return 0, false
		}
		v := s.cur.samples[s.sampIdx]
		s.sampIdx++

		if v == 0 {
			s.accum += overflowAdd
			continue
		}

		ticks := s.accum + uint32(v)
		s.accum = 0

		if s.revEndsAt(s.sampIdx) {
			s.atIndex = true
			s.revIdx++
		}
		return ticks * tickNs, true
	}
}

// revEndsAt reports whether sampIdx (a count of samples consumed so far)
// lands exactly on the boundary between the current revolution and the
// next, per each revolution's nr_samples.
func (s *Source) revEndsAt(sampIdx int) bool {
	if s.revIdx >= len(s.cur.revs) {
		return false
	}
	var consumed int
	for i := 0; i <= s.revIdx; i++ {
		consumed += int(s.cur.revs[i].nrSamples)
	}
	return sampIdx == consumed
}

func (s *Source) AtIndex() bool {
	return s.atIndex
}
