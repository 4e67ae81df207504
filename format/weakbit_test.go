package format

import (
	"testing"

	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
	"github.com/sergev/fluxdisk/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeWeakBitTrack(t *testing.T, h *weakBitHandler, dat []byte, validSectors uint32) *tbuf.Buffer {
	t.Helper()
	totalBits := (weakBitSectorLen + 700) * weakBitNrSectors * 16
	ti := &track.Info{TotalBits: totalBits, Dat: dat, ValidSectors: validSectors}

	var tb tbuf.Buffer
	tb.Init(totalBits, 0, 9)
	h.ReadRaw(nil, 0, ti, &tb)
	tb.Finalise()
	return &tb
}

func TestWeakBitHandler_WriteRaw_RoundTrip(t *testing.T) {
	h := &weakBitHandler{chaosStrikesBack: false}
	dat := make([]byte, weakBitSectorLen*weakBitNrSectors)
	for i := range dat {
		dat[i] = byte(i * 5)
	}
	// Sector 0 (the weak sector for this variant) is mastered with the
	// fixed 0x68 filler the write-side fixup expects over indices 20..508.
	for i := 20; i < 509; i++ {
		dat[i] = 0x68
	}
	full := uint32(1)<<weakBitNrSectors - 1

	tb := encodeWeakBitTrack(t, h, dat, full)
	src := pll.NewSoftSource(tb.MFM, tb.Len, nil, 2000)
	s := pll.Open(src, 2000)
	require.NoError(t, s.Reset(0))

	var ti track.Info
	out, ok := h.WriteRaw(nil, 0, s, &ti)
	require.True(t, ok)
	assert.Equal(t, dat, out)
}

func TestWeakBitHandler_NameAndGeometry(t *testing.T) {
	dm := NewDungeonMasterWeak()
	assert.Equal(t, "Dungeon Master (weak)", dm.Name())
	assert.Equal(t, weakBitSectorLen, dm.BytesPerSector())
	assert.Equal(t, weakBitNrSectors, dm.NrSectors())

	csb := NewChaosStrikesBackWeak()
	assert.Equal(t, "Chaos Strikes Back (weak)", csb.Name())
}

func TestWeakBitHandler_WriteRaw_RejectsTrackWithNoIDAM(t *testing.T) {
	h := &weakBitHandler{chaosStrikesBack: false}
	dat := make([]byte, weakBitSectorLen*weakBitNrSectors)
	for i := 20; i < 509; i++ {
		dat[i] = 0x68
	}
	full := uint32(1)<<weakBitNrSectors - 1

	tb := encodeWeakBitTrack(t, h, dat, full)
	// Overwrite every cell with 1 so no sync word, and so no IDAM, is ever
	// found.
	for i := range tb.MFM {
		tb.MFM[i] = 0xff
	}
	src := pll.NewSoftSource(tb.MFM, tb.Len, nil, 2000)
	s := pll.Open(src, 2000)
	require.NoError(t, s.Reset(0))

	var ti track.Info
	_, ok := h.WriteRaw(nil, 0, s, &ti)
	assert.False(t, ok)
}
