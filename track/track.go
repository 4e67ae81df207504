// Package track implements the track-handler framework: the immutable
// handler registry, per-track metadata, the disk's tag list, and the
// candidate-dispatch ("analyse") loop that tries handlers in order against
// a flux stream.
package track

import (
	"fmt"
	"sort"

	"github.com/sergev/fluxdisk/pll"
	"github.com/sergev/fluxdisk/tbuf"
)

// Density names the nominal recording density a handler targets.
type Density int

const (
	SingleDensity Density = iota
	DoubleDensity
	HighDensity
	ExtraDensity
)

// WeakSentinel marks a track as weak/unformatted in Info.TotalBits.
const WeakSentinel = -1

// UnformattedType is the handler name the dispatch loop falls back to, and
// must be tried strictly last.
const UnformattedType = "unformatted"

// Info is per-track metadata, track_info in spec.md §3.
type Info struct {
	Type           string
	TypeName       string
	TotalBits      int
	DataBitoff     int
	NrSectors      int
	BytesPerSector int
	Len            int
	ValidSectors   uint32 // bitmap; bit i set means sector i recovered
	Dat            []byte
	Flags          uint32
}

// Normalize reduces DataBitoff into [0, TotalBits), the invariant spec.md
// §3 requires after a handler's write_raw call.
func (ti *Info) Normalize() {
	if ti.TotalBits <= 0 {
		ti.DataBitoff = 0
		return
	}
	ti.DataBitoff %= ti.TotalBits
	if ti.DataBitoff < 0 {
		ti.DataBitoff += ti.TotalBits
	}
}

// Handler is a format descriptor, struct track_handler in
// original_source/libdisk/private.h, generalised with a Go interface in
// place of a vtable of function pointers.
type Handler interface {
	Name() string
	Density() Density
	BytesPerSector() int
	NrSectors() int

	// WriteRaw scans s for this format's sync marks starting from the
	// stream's current position, validating structure and checksums. On
	// success it populates ti.DataBitoff (required) and optionally
	// ti.TotalBits/ti.ValidSectors, and returns the decoded payload and
	// true. On failure it returns (nil, false); the caller resets the
	// stream before trying the next candidate.
	WriteRaw(d *Disk, tracknr int, s *pll.Stream, ti *Info) ([]byte, bool)

	// ReadRaw emits the MFM cell sequence that, parsed by WriteRaw on a
	// clean stream, reconstructs ti.Dat.
	ReadRaw(d *Disk, tracknr int, ti *Info, tb *tbuf.Buffer)
}

// NamedHandler is a Handler whose display name depends on the decoded
// payload (e.g. IBM-MFM, which reports sector count/size).
type NamedHandler interface {
	Handler
	GetName(ti *Info) string
}

// Tag is a disk-level, id-keyed blob (disk_tag in spec.md §6), used by one
// handler to pass recovered state (e.g. a decryption key) to another.
type Tag struct {
	ID   uint16
	Data []byte
}

// Disk is a fixed-size collection of track-info blocks plus an ordered tag
// list, struct disk in spec.md §3.
type Disk struct {
	Tracks []Info
	Tags   []Tag
}

// NewDisk allocates a Disk with nTracks zero-valued track slots (empty
// Type, no data).
func NewDisk(nTracks int) *Disk {
	return &Disk{Tracks: make([]Info, nTracks)}
}

// SetTag inserts or replaces a tag, keeping Tags sorted by id (mirroring
// original_source/libdisk/disk.c's disk_set_tag, which dedups on equal
// id rather than appending a duplicate).
func (d *Disk) SetTag(id uint16, data []byte) {
	i := sort.Search(len(d.Tags), func(i int) bool { return d.Tags[i].ID >= id })
	if i < len(d.Tags) && d.Tags[i].ID == id {
		d.Tags[i].Data = data
		return
	}
	d.Tags = append(d.Tags, Tag{})
	copy(d.Tags[i+1:], d.Tags[i:])
	d.Tags[i] = Tag{ID: id, Data: data}
}

// TagByID looks up a tag by id.
func (d *Disk) TagByID(id uint16) ([]byte, bool) {
	i := sort.Search(len(d.Tags), func(i int) bool { return d.Tags[i].ID >= id })
	if i < len(d.Tags) && d.Tags[i].ID == id {
		return d.Tags[i].Data, true
	}
	return nil, false
}

// Registry is the immutable-after-init set of known handlers, looked up by
// name (spec.md §3's "handler-identifier (tagged enum)" — a string serves
// the same role as a tagged enum without a central, ever-growing const
// block every new handler file would need to touch).
type Registry struct {
	byName map[string]Handler
	order  []string
}

// NewRegistry returns an empty registry ready for Register calls; once
// handed to Analyse it must not be mutated further (spec.md §3's
// immutable-registry invariant).
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Handler)}
}

// Register adds h to the registry. Panics on a duplicate name: a
// programming error, since handler registration happens once at startup.
func (r *Registry) Register(h Handler) {
	name := h.Name()
	if _, exists := r.byName[name]; exists {
		panic(fmt.Sprintf("track: handler %q registered twice", name))
	}
	r.byName[name] = h
	r.order = append(r.order, name)
}

// Lookup finds a registered handler by name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// Names returns every registered handler name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// InitInfo populates ti's handler-derived fields (type, typename,
// bytes_per_sector, nr_sectors, len) from h, the
// init_track_info_from_handler_info of original_source/libdisk/disk.c.
func (r *Registry) InitInfo(ti *Info, h Handler) {
	ti.Type = h.Name()
	ti.TypeName = h.Name()
	if named, ok := h.(NamedHandler); ok {
		ti.TypeName = named.GetName(ti)
	}
	ti.BytesPerSector = h.BytesPerSector()
	ti.NrSectors = h.NrSectors()
	ti.Len = ti.BytesPerSector * ti.NrSectors
}

// Analyse is the handler-dispatch loop of spec.md §4.4: reset the stream
// to tracknr, try each candidate handler in order, first success wins;
// falling back to the unformatted handler strictly last. On success the
// disk's track-info block is updated in place; on total failure it is
// marked "unidentified".
func (r *Registry) Analyse(d *Disk, tracknr int, s *pll.Stream, candidates []string) error {
	for _, name := range candidates {
		h, ok := r.byName[name]
		if !ok || name == UnformattedType {
			continue
		}
		if ti, dat, ok := r.tryHandler(d, tracknr, s, h); ok {
			r.commit(d, tracknr, h, ti, dat)
			return nil
		}
	}

	if h, ok := r.byName[UnformattedType]; ok {
		if ti, dat, ok := r.tryHandler(d, tracknr, s, h); ok {
			r.commit(d, tracknr, h, ti, dat)
			return nil
		}
	}

	d.Tracks[tracknr] = Info{Type: "unidentified"}
	return nil
}

// nominalTotalBits is the default track length, in cells, a density's
// tracks are assumed to have before a handler's WriteRaw runs — the role
// original_source's per-format disk template plays by setting
// track_info.total_bits once upfront, ahead of write_mfm. A handler may
// overwrite it (rare; see format/longtrack.go's long-track variants).
func nominalTotalBits(density Density) int {
	switch density {
	case HighDensity:
		return 200100
	case ExtraDensity:
		return 400200
	default:
		return 100050
	}
}

func (r *Registry) tryHandler(d *Disk, tracknr int, s *pll.Stream, h Handler) (Info, []byte, bool) {
	if err := s.Reset(tracknr); err != nil {
		return Info{}, nil, false
	}
	ti := Info{TotalBits: nominalTotalBits(h.Density())}
	dat, ok := h.WriteRaw(d, tracknr, s, &ti)
	return ti, dat, ok
}

func (r *Registry) commit(d *Disk, tracknr int, h Handler, ti Info, dat []byte) {
	ti.Dat = dat
	r.InitInfo(&ti, h)
	ti.Normalize()
	d.Tracks[tracknr] = ti
}
