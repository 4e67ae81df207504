package format

import (
	"encoding/binary"
	"testing"

	"github.com/sergev/fluxdisk/bits"
	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
	"github.com/sergev/fluxdisk/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeAmigaDOSTrack renders tracknr's 11 sectors of dat (plain, 512
// bytes/sector) into a raw cell bitstream using the handler's own ReadRaw,
// giving a flux source WriteRaw can be exercised against without a capture
// file.
func encodeAmigaDOSTrack(t *testing.T, tracknr int, dat []byte, labelled bool, validSectors uint32) (*tbuf.Buffer, *track.Info) {
	t.Helper()
	totalBits := (adosBytesPerBlock + 100) * adosBlocksPerTrack * 16
	ti := &track.Info{TotalBits: totalBits, DataBitoff: 0, Dat: dat, ValidSectors: validSectors}

	var tb tbuf.Buffer
	tb.Init(totalBits, 0, 99)
	h := &amigaDOSHandler{labelled: labelled}
	h.ReadRaw(nil, tracknr, ti, &tb)
	return &tb, ti
}

func softStreamFromBuffer(tb *tbuf.Buffer) *pll.Stream {
	// Every field in these fixtures is written at DefaultSpeed, so a
	// uniform-speed source (nil) is equivalent to expanding tb.Speed's
	// per-byte map into a per-cell one and avoids that reshape here.
	src := pll.NewSoftSource(tb.MFM, tb.Len, nil, 2000)
	return pll.Open(src, 2000)
}

func TestAmigaDOSHandler_WriteRaw_RoundTrip(t *testing.T) {
	dat := make([]byte, adosBytesPerBlock*adosBlocksPerTrack)
	for i := range dat {
		dat[i] = byte(i * 7)
	}

	tb, _ := encodeAmigaDOSTrack(t, 3, dat, false, (1<<adosBlocksPerTrack)-1)
	s := softStreamFromBuffer(tb)
	require.NoError(t, s.Reset(3))

	h := NewAmigaDOS()
	var ti track.Info
	out, ok := h.WriteRaw(nil, 3, s, &ti)
	require.True(t, ok)
	assert.Equal(t, dat, out)
	assert.Equal(t, uint32((1<<adosBlocksPerTrack)-1), ti.ValidSectors)
}

func TestAmigaDOSHandler_WriteRaw_WrongTrackFails(t *testing.T) {
	dat := make([]byte, adosBytesPerBlock*adosBlocksPerTrack)
	tb, _ := encodeAmigaDOSTrack(t, 3, dat, false, (1<<adosBlocksPerTrack)-1)
	s := softStreamFromBuffer(tb)
	require.NoError(t, s.Reset(3))

	h := NewAmigaDOS()
	var ti track.Info
	_, ok := h.WriteRaw(nil, 4, s, &ti)
	assert.False(t, ok)
}

func TestAmigaDOSHandler_WriteRaw_LabelledVariantRejectsPlainHandler(t *testing.T) {
	dat := make([]byte, (adosBytesPerBlock+16)*adosBlocksPerTrack)
	for i := 0; i < adosBlocksPerTrack; i++ {
		dat[i*(adosBytesPerBlock+16)] = 0xaa // nonzero label byte
	}

	tb, _ := encodeAmigaDOSTrack(t, 1, dat, true, (1<<adosBlocksPerTrack)-1)
	s := softStreamFromBuffer(tb)
	require.NoError(t, s.Reset(1))

	plain := NewAmigaDOS()
	var ti track.Info
	_, ok := plain.WriteRaw(nil, 1, s, &ti)
	assert.False(t, ok, "plain handler must not claim a labelled track")

	require.NoError(t, s.Reset(1))
	labelled := NewAmigaDOSLabelled()
	var ti2 track.Info
	out, ok := labelled.WriteRaw(nil, 1, s, &ti2)
	require.True(t, ok)
	assert.Len(t, out, (adosBytesPerBlock+16)*adosBlocksPerTrack)
}

func TestAmigaDOSHandler_WriteRaw_CorruptedSectorRejected(t *testing.T) {
	dat := make([]byte, adosBytesPerBlock*adosBlocksPerTrack)
	tb, _ := encodeAmigaDOSTrack(t, 0, dat, false, (1<<adosBlocksPerTrack)-1)
	// Flip a bit in the first sector's label area (MFM byte 20, cells
	// 160-167) to break its header checksum without touching the sync word.
	tb.MFM[20] ^= 0x10

	s := softStreamFromBuffer(tb)
	require.NoError(t, s.Reset(0))

	h := NewAmigaDOS()
	var ti track.Info
	_, ok := h.WriteRaw(nil, 0, s, &ti)
	// Corrupting one sector still leaves 10 valid ones, and the handler
	// claims the track with a partial ValidSectors bitmap.
	if ok {
		assert.NotEqual(t, uint32((1<<adosBlocksPerTrack)-1), ti.ValidSectors)
	}
}

func TestDecodeAmigaLongs_ChecksumMatchesWriteSide(t *testing.T) {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], 0xdeadbeef)

	var tb tbuf.Buffer
	tb.Init(256, 0, 1)
	tb.Bits(tbuf.DefaultSpeed, tbuf.EvenOdd, 32, binary.BigEndian.Uint32(data[:]))

	raw := tb.MFM[:8]
	decoded, xor := decodeAmigaLongs(raw, 1)
	assert.Equal(t, data[:], decoded)
	assert.Equal(t, bits.AmigaDOSChecksum(data[:], len(data)), xor&0x55555555)
}

func TestAmigaDOSHandler_NameAndGeometry(t *testing.T) {
	plain := NewAmigaDOS()
	assert.Equal(t, "AmigaDOS", plain.Name())
	assert.Equal(t, adosBytesPerBlock, plain.BytesPerSector())
	assert.Equal(t, adosBlocksPerTrack, plain.NrSectors())

	labelled := NewAmigaDOSLabelled()
	assert.Equal(t, "AmigaDOS w/Labels", labelled.Name())
	assert.Equal(t, adosBytesPerBlock+16, labelled.BytesPerSector())
}

func TestMfmEncodeDecode_CrossCheckViaBits(t *testing.T) {
	// Sanity check that format's local decode helper and the bits package
	// agree on a plain (non-split) MFM round trip used elsewhere in the
	// handler (the sync word and gap fields).
	raw, _ := bits.EncodeBytes([]byte{0x12, 0x34}, 1)
	dst := make([]byte, 2)
	require.NoError(t, bits.DecodeBytes(bits.Mfm, 2, raw, dst))
	assert.Equal(t, []byte{0x12, 0x34}, dst)
}
