package pll

// SoftSource is an in-memory flux Source built directly from a cell-bit
// array and a per-cell speed map, the software equivalent of
// disk_image.c's di_next_bit: instead of reading real flux samples it
// walks a pre-encoded MFM bitstream and reconstructs the flux intervals a
// real drive would have produced reading it. Used to round-trip test
// encoders against the PLL/handler decode path without a capture file.
type SoftSource struct {
	cells   []byte // packed MSB-first, one bit per cell
	nCells  int
	speed   []uint16 // per-cell speed, parts-per-thousand of nominal; nil means 1000 throughout
	nsCell  float64
	pos     int
	atIndex bool
}

// NewSoftSource builds a SoftSource over nCells cells packed MSB-first in
// cells, with nominal cell width nsPerCell. speed may be nil (uniform
// speed) or one entry per cell, scaling that cell's width in parts per
// thousand (1000 = nominal). tbuf.Buffer.Speed holds one entry per 8 cells,
// not one per cell.
func NewSoftSource(cells []byte, nCells int, speed []uint16, nsPerCell float64) *SoftSource {
	return &SoftSource{cells: cells, nCells: nCells, speed: speed, nsCell: nsPerCell}
}

func (ss *SoftSource) bit(i int) int {
	return int((ss.cells[i>>3] >> uint(7-i&7)) & 1)
}

func (ss *SoftSource) cellWidth(i int) float64 {
	if ss.speed == nil {
		return ss.nsCell
	}
	return ss.nsCell * float64(ss.speed[i]) / 1000
}

func (ss *SoftSource) Reset(tracknr int) error {
	ss.pos = 0
	ss.atIndex = false
	return nil
}

// NextFlux accumulates cell widths until it reaches a '1' cell (a flux
// transition), returning the summed interval. Wrapping past the end of the
// track marks the returned interval as AtIndex. A track with no '1' cell
// has no transition, and NextFlux returns ok=false.
func (ss *SoftSource) NextFlux() (uint32, bool) {
	if ss.nCells == 0 {
		return 0, false
	}
	var interval float64
	ss.atIndex = false
	scanned := 0
	for {
		if scanned == ss.nCells {
			return 0, false
		}
		scanned++
		if ss.pos >= ss.nCells {
			ss.pos = 0
			ss.atIndex = true
		}
		interval += ss.cellWidth(ss.pos)
		b := ss.bit(ss.pos)
		ss.pos++
		if b == 1 {
			return uint32(interval), true
		}
	}
}

func (ss *SoftSource) AtIndex() bool {
	return ss.atIndex
}
