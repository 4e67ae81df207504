package container

import (
	"bytes"
	"fmt"
	"os"

	"github.com/sergev/fluxdisk/format"
	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/track"
)

const (
	adfNrTracks        = 160
	adfBytesPerSector  = 512
	adfSectorsPerTrack = 11
	adfTrackLen        = adfBytesPerSector * adfSectorsPerTrack
	adfTotalSize       = adfNrTracks * adfTrackLen
	adfDataBitoff      = 1024
)

// adfNDOSFiller is the 4-byte pattern adf_init_track stamps across every
// sector of a freshly-initialised, not-yet-decoded track: a placeholder no
// real AmigaDOS sector checksum will ever match.
var adfNDOSFiller = []byte("NDOS")

// ADF is the 160-track, 11x512-byte-sector raw AmigaDOS image container.
// Only AmigaDOS tracks (plain or labelled) may be written to it.
type ADF struct{}

func NewADF() *ADF { return &ADF{} }

func (c *ADF) adfInitTrack() track.Info {
	ti := track.Info{
		Type:           format.NewAmigaDOS().Name(),
		TypeName:       format.NewAmigaDOS().Name(),
		BytesPerSector: adfBytesPerSector,
		NrSectors:      adfSectorsPerTrack,
		Len:            adfTrackLen,
		DataBitoff:     adfDataBitoff,
		TotalBits:      100150,
		Dat:            make([]byte, adfTrackLen),
	}
	for i := 0; i < adfTrackLen/4; i++ {
		copy(ti.Dat[i*4:i*4+4], adfNDOSFiller)
	}
	return ti
}

func (c *ADF) Init() *track.Disk {
	d := track.NewDisk(adfNrTracks)
	for i := range d.Tracks {
		d.Tracks[i] = c.adfInitTrack()
	}
	return d
}

func (c *ADF) Open(filename string) (*track.Disk, bool, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, false, fmt.Errorf("container: adf: %w", err)
	}
	if len(raw) != adfTotalSize {
		return nil, false, nil
	}

	d := c.Init()
	for i := range d.Tracks {
		ti := &d.Tracks[i]
		copy(ti.Dat, raw[i*adfTrackLen:(i+1)*adfTrackLen])

		var valid uint32
		for j := 0; j < adfSectorsPerTrack; j++ {
			sec := ti.Dat[j*adfBytesPerSector : (j+1)*adfBytesPerSector]
			isNDOS := true
			for k := 0; k < len(sec); k += 4 {
				if !bytes.Equal(sec[k:k+4], adfNDOSFiller) {
					isNDOS = false
					break
				}
			}
			if !isNDOS {
				valid |= 1 << uint(j)
			}
		}
		ti.ValidSectors = valid
	}
	return d, true, nil
}

func (c *ADF) Close(filename string, d *track.Disk) error {
	if len(d.Tracks) != adfNrTracks {
		return fmt.Errorf("container: adf: expected %d tracks, got %d", adfNrTracks, len(d.Tracks))
	}

	out := make([]byte, 0, adfTotalSize)
	for i := range d.Tracks {
		dat := d.Tracks[i].Dat
		if len(dat) != adfTrackLen {
			return fmt.Errorf("container: adf: track %d has %d bytes, want %d", i, len(dat), adfTrackLen)
		}
		out = append(out, dat...)
	}

	if err := os.WriteFile(filename, out, 0o644); err != nil {
		return fmt.Errorf("container: adf: %w", err)
	}
	return nil
}

func (c *ADF) WriteRaw(d *track.Disk, tracknr int, reg *track.Registry, s *pll.Stream, candidates []string) error {
	amigaDOSNames := map[string]bool{
		format.NewAmigaDOS().Name():         true,
		format.NewAmigaDOSLabelled().Name(): true,
	}
	var restricted []string
	for _, name := range candidates {
		if amigaDOSNames[name] {
			restricted = append(restricted, name)
		}
	}
	if len(restricted) == 0 {
		return fmt.Errorf("container: adf: only AmigaDOS tracks can be written to ADF files")
	}

	if err := reg.Analyse(d, tracknr, s, restricted); err != nil {
		return err
	}

	if !amigaDOSNames[d.Tracks[tracknr].Type] {
		d.Tracks[tracknr] = c.adfInitTrack()
	}
	return nil
}
