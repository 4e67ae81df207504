// Package container implements the on-disk image formats a decoded disk is
// read from or written to: container_adf.c and container_dsk.c in
// original_source/libdisk. A container owns file layout only; it never
// inspects track payloads beyond what its own format requires (AmigaDOS-only
// for ADF, arbitrary handler type for DSK).
package container

import (
	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/track"
)

// Container is the init/open/close/write_raw quartet of
// original_source/libdisk/private.h's struct container, generalised as a Go
// interface in place of a vtable.
type Container interface {
	// Init allocates a fresh, empty disk image in this container's native
	// geometry (track count, per-track filler).
	Init() *track.Disk

	// Open reads an existing image file into a Disk. The returned bool is
	// false (with a nil error) when the file doesn't look like this
	// container's format at all, mirroring original_source's quiet "return
	// 0" — a container probe, not a decode failure.
	Open(filename string) (*track.Disk, bool, error)

	// Close serialises d to filename in this container's format.
	Close(filename string, d *track.Disk) error

	// WriteRaw decodes tracknr from s using reg's candidate handlers,
	// applying this container's own type constraints (e.g. ADF accepts
	// only AmigaDOS), and commits the result into d.
	WriteRaw(d *track.Disk, tracknr int, reg *track.Registry, s *pll.Stream, candidates []string) error
}
