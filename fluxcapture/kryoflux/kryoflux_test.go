package kryoflux

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oobBlock(oobType byte, data []byte) []byte {
	b := []byte{opOOB, oobType, byte(len(data)), byte(len(data) >> 8)}
	return append(b, data...)
}

func eofMarker() []byte {
	return oobBlock(oobEOF, nil)
}

func TestSource_NextFlux_Flux1(t *testing.T) {
	data := append([]byte{0x20, 0x30, 0x40}, eofMarker()...)
	s := &Source{tracks: map[int]*trackStream{0: {data: data}}}
	require.NoError(t, s.Reset(0))

	for _, want := range []byte{0x20, 0x30, 0x40} {
		ns, ok := s.NextFlux()
		require.True(t, ok)
		wantNs := uint32(float64(want) * 1e9 / DefaultSampleClock)
		assert.Equal(t, wantNs, ns)
	}
	_, ok := s.NextFlux()
	assert.False(t, ok)
}

func TestSource_NextFlux_Flux2(t *testing.T) {
	// opcode byte 0x03 introduces a 2-byte value: (0x03<<8)|0x50 = 0x350
	data := append([]byte{0x03, 0x50}, eofMarker()...)
	s := &Source{tracks: map[int]*trackStream{0: {data: data}}}
	require.NoError(t, s.Reset(0))

	ns, ok := s.NextFlux()
	require.True(t, ok)
	ticks := 0x350
	assert.Equal(t, uint32(float64(ticks)*1e9/DefaultSampleClock), ns)
}

func TestSource_NextFlux_Flux3(t *testing.T) {
	data := append([]byte{opFlux3, 0x01, 0x02}, eofMarker()...)
	s := &Source{tracks: map[int]*trackStream{0: {data: data}}}
	require.NoError(t, s.Reset(0))

	ns, ok := s.NextFlux()
	require.True(t, ok)
	ticks := 0x0102
	assert.Equal(t, uint32(float64(ticks)*1e9/DefaultSampleClock), ns)
}

func TestSource_NextFlux_Overflow16FoldsIntoNextValue(t *testing.T) {
	data := append([]byte{opOvl16, 0x20}, eofMarker()...)
	s := &Source{tracks: map[int]*trackStream{0: {data: data}}}
	require.NoError(t, s.Reset(0))

	ns, ok := s.NextFlux()
	require.True(t, ok)
	ticks := overflowAdd + 0x20
	assert.Equal(t, uint32(float64(ticks)*1e9/DefaultSampleClock), ns)
}

func TestSource_NextFlux_NopsAreSkipped(t *testing.T) {
	data := append([]byte{opNop1, opNop2, 0, opNop3, 0, 0, 0x20}, eofMarker()...)
	s := &Source{tracks: map[int]*trackStream{0: {data: data}}}
	require.NoError(t, s.Reset(0))

	ns, ok := s.NextFlux()
	require.True(t, ok)
	ticks := 0x20
	assert.Equal(t, uint32(float64(ticks)*1e9/DefaultSampleClock), ns)
}

func TestSource_NextFlux_IndexBlockSignalsAtIndex(t *testing.T) {
	indexData := make([]byte, 12) // streamPosition, sampleCounter, indexCounter
	data := []byte{0x20}
	data = append(data, oobBlock(oobIndex, indexData)...)
	data = append(data, 0x30)
	data = append(data, eofMarker()...)

	s := &Source{tracks: map[int]*trackStream{0: {data: data}}}
	require.NoError(t, s.Reset(0))

	_, ok := s.NextFlux()
	require.True(t, ok)
	assert.False(t, s.AtIndex(), "no index block has been seen yet")

	_, ok = s.NextFlux()
	require.True(t, ok)
	assert.True(t, s.AtIndex(), "index block preceded this flux value")
}

func TestSource_Reset_UnknownTrackFails(t *testing.T) {
	s := &Source{tracks: map[int]*trackStream{0: {data: []byte{0x20}}}}
	assert.Error(t, s.Reset(7))
}

func TestOpen_ReadsNamedTrackFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00.0.raw"), []byte{0x20}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00.1.raw"), []byte{0x30}, 0o644))

	s, err := Open(dir)
	require.NoError(t, err)
	assert.Contains(t, s.tracks, 0)
	assert.Contains(t, s.tracks, 1)
}

func TestOpen_EmptyDirectoryFails(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.Error(t, err)
}
