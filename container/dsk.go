package container

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/track"
)

// DSK is the native container: disk_header + (track_header * nr_tracks) +
// tag records + track payloads, all fields big-endian, from
// original_source/libdisk/container_dsk.c. original_source keys track_header
// on a fixed C enum; this module identifies handlers by name (track.go's
// Registry), so the fixed-width type id is replaced by a 32-byte, zero-padded
// type-name field of the same role.
type DSK struct {
	NrTracks int
}

func NewDSK(nrTracks int) *DSK { return &DSK{NrTracks: nrTracks} }

const (
	dskSignature     = "DSK\x00"
	dskVersion       = 0
	dskTypeNameLen   = 32
	dskTrackHdrLen   = dskTypeNameLen + 2 + 4 + 4 + 4 + 4 + 4 // 54 bytes
	dskDiskHdrLen    = 4 + 2 + 2 + 2 + 2                      // 12 bytes
	dskTagHdrLen     = 4
	dskTagEndID      = 0xffff
	dskDefaultTracks = 160
)

func (c *DSK) nrTracks() int {
	if c.NrTracks > 0 {
		return c.NrTracks
	}
	return dskDefaultTracks
}

func (c *DSK) Init() *track.Disk {
	n := c.nrTracks()
	d := track.NewDisk(n)
	for i := range d.Tracks {
		d.Tracks[i] = track.Info{
			Type:      track.UnformattedType,
			TypeName:  track.UnformattedType,
			TotalBits: track.WeakSentinel,
		}
	}
	return d
}

func writeDSKString32(w io.Writer, s string) error {
	var buf [dskTypeNameLen]byte
	copy(buf[:], s)
	_, err := w.Write(buf[:])
	return err
}

func readDSKString32(r io.Reader) (string, error) {
	var buf [dskTypeNameLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", err
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n]), nil
}

func (c *DSK) Open(filename string) (*track.Disk, bool, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, false, fmt.Errorf("container: dsk: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var sig [4]byte
	if _, err := io.ReadFull(r, sig[:]); err != nil {
		return nil, false, nil
	}
	var version, nrTracksRaw, bytesPerThdr, flags uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, false, nil
	}
	if err := binary.Read(r, binary.BigEndian, &nrTracksRaw); err != nil {
		return nil, false, nil
	}
	if err := binary.Read(r, binary.BigEndian, &bytesPerThdr); err != nil {
		return nil, false, nil
	}
	if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
		return nil, false, nil
	}
	if string(sig[:]) != dskSignature || version != dskVersion {
		return nil, false, nil
	}

	nrTracks := int(nrTracksRaw)
	d := track.NewDisk(nrTracks)

	type pending struct {
		off, length uint32
	}
	offs := make([]pending, nrTracks)

	readLen := int(bytesPerThdr)
	if readLen > dskTrackHdrLen {
		readLen = dskTrackHdrLen
	}
	for i := 0; i < nrTracks; i++ {
		hdr := make([]byte, readLen)
		if _, err := io.ReadFull(r, hdr); err != nil {
			return nil, false, fmt.Errorf("container: dsk: track header %d: %w", i, err)
		}
		if int(bytesPerThdr) > readLen {
			if _, err := io.CopyN(io.Discard, r, int64(int(bytesPerThdr)-readLen)); err != nil {
				return nil, false, fmt.Errorf("container: dsk: track header %d padding: %w", i, err)
			}
		}

		hr := trimReader(hdr)
		typeName, _ := readDSKString32(hr)
		var fl uint16
		var validSectors, off, length, dataBitoff uint32
		var totalBits int32
		binary.Read(hr, binary.BigEndian, &fl)
		binary.Read(hr, binary.BigEndian, &validSectors)
		binary.Read(hr, binary.BigEndian, &off)
		binary.Read(hr, binary.BigEndian, &length)
		binary.Read(hr, binary.BigEndian, &dataBitoff)
		binary.Read(hr, binary.BigEndian, &totalBits)

		d.Tracks[i] = track.Info{
			Type:         typeName,
			TypeName:     typeName,
			Flags:        uint32(fl),
			ValidSectors: validSectors,
			Len:          int(length),
			DataBitoff:   int(dataBitoff),
			TotalBits:    int(totalBits),
		}
		offs[i] = pending{off: off, length: length}
	}

	for {
		var id, tlen uint16
		if err := binary.Read(r, binary.BigEndian, &id); err != nil {
			return nil, false, fmt.Errorf("container: dsk: tag header: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &tlen); err != nil {
			return nil, false, fmt.Errorf("container: dsk: tag header: %w", err)
		}
		data := make([]byte, tlen)
		if tlen > 0 {
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, false, fmt.Errorf("container: dsk: tag body: %w", err)
			}
		}
		if id == dskTagEndID {
			break
		}
		d.SetTag(id, data)
	}

	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, false, fmt.Errorf("container: dsk: %w", err)
	}
	for i := range d.Tracks {
		ti := &d.Tracks[i]
		o, l := offs[i].off, offs[i].length
		if l == 0 {
			continue
		}
		if int(o+l) > len(raw) {
			return nil, false, fmt.Errorf("container: dsk: track %d payload out of range", i)
		}
		ti.Dat = raw[o : o+l]
	}

	return d, true, nil
}

// trimReader wraps a byte slice as an io.Reader for the fixed-size header
// fields already pulled out of the stream above.
func trimReader(b []byte) *byteReader { return &byteReader{b: b} }

type byteReader struct {
	b []byte
	i int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

func (c *DSK) Close(filename string, d *track.Disk) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("container: dsk: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	w.WriteString(dskSignature)
	binary.Write(w, binary.BigEndian, uint16(dskVersion))
	binary.Write(w, binary.BigEndian, uint16(len(d.Tracks)))
	binary.Write(w, binary.BigEndian, uint16(dskTrackHdrLen))
	binary.Write(w, binary.BigEndian, uint16(0))

	datOff := uint32(dskDiskHdrLen + len(d.Tracks)*dskTrackHdrLen)
	for _, t := range d.Tags {
		datOff += dskTagHdrLen + uint32(len(t.Data))
	}
	datOff += dskTagHdrLen // DSKTAG_end record

	off := datOff
	for i := range d.Tracks {
		ti := &d.Tracks[i]
		if err := writeDSKString32(w, ti.Type); err != nil {
			return fmt.Errorf("container: dsk: %w", err)
		}
		binary.Write(w, binary.BigEndian, uint16(ti.Flags))
		binary.Write(w, binary.BigEndian, ti.ValidSectors)
		binary.Write(w, binary.BigEndian, off)
		binary.Write(w, binary.BigEndian, uint32(len(ti.Dat)))
		binary.Write(w, binary.BigEndian, uint32(ti.DataBitoff))
		binary.Write(w, binary.BigEndian, int32(ti.TotalBits))
		off += uint32(len(ti.Dat))
	}

	for _, t := range d.Tags {
		binary.Write(w, binary.BigEndian, t.ID)
		binary.Write(w, binary.BigEndian, uint16(len(t.Data)))
		w.Write(t.Data)
	}
	binary.Write(w, binary.BigEndian, uint16(dskTagEndID))
	binary.Write(w, binary.BigEndian, uint16(0))

	for i := range d.Tracks {
		if len(d.Tracks[i].Dat) > 0 {
			w.Write(d.Tracks[i].Dat)
		}
	}

	return w.Flush()
}

func (c *DSK) WriteRaw(d *track.Disk, tracknr int, reg *track.Registry, s *pll.Stream, candidates []string) error {
	if err := reg.Analyse(d, tracknr, s, candidates); err != nil {
		return err
	}
	ti := &d.Tracks[tracknr]
	ti.Normalize()
	return nil
}
