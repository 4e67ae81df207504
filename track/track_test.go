package track

import (
	"testing"

	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

type stubHandler struct {
	name    string
	success bool
	bitoff  int
}

func (s *stubHandler) Name() string         { return s.name }
func (s *stubHandler) Density() Density     { return DoubleDensity }
func (s *stubHandler) BytesPerSector() int  { return 512 }
func (s *stubHandler) NrSectors() int       { return 11 }
func (s *stubHandler) WriteRaw(d *Disk, tracknr int, st *pll.Stream, ti *Info) ([]byte, bool) {
	if !s.success {
		return nil, false
	}
	ti.DataBitoff = s.bitoff
	ti.TotalBits = 100150
	ti.ValidSectors = 0x7ff
	return []byte{1, 2, 3}, true
}
func (s *stubHandler) ReadRaw(d *Disk, tracknr int, ti *Info, tb *tbuf.Buffer) {}

func emptySoftStream() *pll.Stream {
	src := pll.NewSoftSource([]byte{0xaa}, 8, nil, 2000)
	return pll.Open(src, 2000)
}

func TestRegistry_Analyse_FirstCandidateWins(t *testing.T) {
	r := NewRegistry()
	first := &stubHandler{name: "a", success: true, bitoff: 5}
	second := &stubHandler{name: "b", success: true, bitoff: 9}
	r.Register(first)
	r.Register(second)
	r.Register(&stubHandler{name: UnformattedType, success: true})

	d := NewDisk(1)
	err := r.Analyse(d, 0, emptySoftStream(), []string{"a", "b"})
	assert.NoError(t, err)
	assert.Equal(t, "a", d.Tracks[0].Type)
	assert.Equal(t, 5, d.Tracks[0].DataBitoff)
}

func TestRegistry_Analyse_FallsThroughToUnformatted(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubHandler{name: "a", success: false})
	r.Register(&stubHandler{name: UnformattedType, success: true, bitoff: 0})

	d := NewDisk(1)
	err := r.Analyse(d, 0, emptySoftStream(), []string{"a"})
	assert.NoError(t, err)
	assert.Equal(t, UnformattedType, d.Tracks[0].Type)
}

func TestRegistry_Analyse_AllFailMarksUnidentified(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubHandler{name: "a", success: false})

	d := NewDisk(1)
	err := r.Analyse(d, 0, emptySoftStream(), []string{"a"})
	assert.NoError(t, err)
	assert.Equal(t, "unidentified", d.Tracks[0].Type)
}

func TestInfo_Normalize_ReducesIntoRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(1, 200000).Draw(t, "total")
		off := rapid.IntRange(-500000, 500000).Draw(t, "off")
		ti := Info{TotalBits: total, DataBitoff: off}
		ti.Normalize()
		assert.GreaterOrEqual(t, ti.DataBitoff, 0)
		assert.Less(t, ti.DataBitoff, total)
	})
}

func TestDisk_SetTag_DedupsOnEqualID(t *testing.T) {
	d := &Disk{}
	d.SetTag(5, []byte{1})
	d.SetTag(3, []byte{2})
	d.SetTag(5, []byte{9})
	assert.Len(t, d.Tags, 2)
	got, ok := d.TagByID(5)
	assert.True(t, ok)
	assert.Equal(t, []byte{9}, got)
	_, ok = d.TagByID(99)
	assert.False(t, ok)
}

func TestRegistry_Register_PanicsOnDuplicateName(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubHandler{name: "dup"})
	assert.Panics(t, func() { r.Register(&stubHandler{name: "dup"}) })
}
