package format

import (
	"testing"

	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
	"github.com/sergev/fluxdisk/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeRNCPDOSTrack(t *testing.T, tracknr int, dat []byte, validSectors uint32, key uint32) *tbuf.Buffer {
	t.Helper()
	ti := &track.Info{TotalBits: pdosTotalBits, NrSectors: pdosNrSectors, Dat: dat, ValidSectors: validSectors}

	var tb tbuf.Buffer
	tb.Init(pdosTotalBits, 0, 7)

	h := &rncPDOSHandler{}
	d := track.NewDisk(1)
	var raw [4]byte
	for i, b := range []byte{byte(key >> 24), byte(key >> 16), byte(key >> 8), byte(key)} {
		raw[i] = b
	}
	d.SetTag(DSKTAGRNCPDOSKey, raw[:])

	h.ReadRaw(d, tracknr, ti, &tb)
	return &tb
}

func TestRNCPDOSHandler_WriteRaw_RoundTrip(t *testing.T) {
	dat := make([]byte, pdosBytesPerSec*pdosNrSectors)
	for i := range dat {
		dat[i] = byte(i * 7)
	}
	full := uint32(1)<<pdosNrSectors - 1
	key := uint32(0x12345678)

	tb := encodeRNCPDOSTrack(t, 3, dat, full, key)
	src := pll.NewSoftSource(tb.MFM, tb.Len, nil, 2000)
	s := pll.Open(src, 2000)
	require.NoError(t, s.Reset(3))

	h := NewRNCPDOS()
	d := track.NewDisk(1)
	var raw [4]byte
	raw[0], raw[1], raw[2], raw[3] = byte(key>>24), byte(key>>16), byte(key>>8), byte(key)
	d.SetTag(DSKTAGRNCPDOSKey, raw[:])

	var ti track.Info
	out, ok := h.WriteRaw(d, 3, s, &ti)
	require.True(t, ok)
	assert.Equal(t, dat, out)
	assert.Equal(t, full, ti.ValidSectors)
	assert.Equal(t, pdosTotalBits, ti.TotalBits)
}

func TestRNCPDOSHandler_WriteRaw_BruteForcesKeyWhenAbsent(t *testing.T) {
	dat := make([]byte, pdosBytesPerSec*pdosNrSectors)
	for i := range dat {
		dat[i] = byte(i)
	}
	full := uint32(1)<<pdosNrSectors - 1
	key := uint32(0x2bcdef01)

	tb := encodeRNCPDOSTrack(t, 0, dat, full, key)
	src := pll.NewSoftSource(tb.MFM, tb.Len, nil, 2000)
	s := pll.Open(src, 2000)
	require.NoError(t, s.Reset(0))

	h := NewRNCPDOS()
	d := track.NewDisk(1)

	var ti track.Info
	out, ok := h.WriteRaw(d, 0, s, &ti)
	require.True(t, ok)
	assert.Equal(t, dat, out)

	gotKey, ok := d.TagByID(DSKTAGRNCPDOSKey)
	require.True(t, ok)
	require.Len(t, gotKey, 4)
}

func TestRNCPDOSHandler_NameAndGeometry(t *testing.T) {
	h := NewRNCPDOS()
	assert.Equal(t, "RNC PDOS", h.Name())
	assert.Equal(t, pdosBytesPerSec, h.BytesPerSector())
	assert.Equal(t, pdosNrSectors, h.NrSectors())
}

func TestRNCPDOSHandler_WriteRaw_NoSyncFails(t *testing.T) {
	src := pll.NewSoftSource([]byte{0x00, 0x00, 0x00, 0x00}, 32, nil, 2000)
	s := pll.Open(src, 2000)
	require.NoError(t, s.Reset(0))

	h := NewRNCPDOS()
	var ti track.Info
	_, ok := h.WriteRaw(nil, 0, s, &ti)
	assert.False(t, ok)
}

func TestCopylockEncodeWord_IsDecodeInverse(t *testing.T) {
	for _, y := range []uint16{0x0000, 0xffff, 0x5a5a, 0x1234} {
		assert.Equal(t, y, copylockDecodeWord(copylockEncodeWord(y)))
	}
}
