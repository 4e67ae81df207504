package format

import "github.com/sergev/fluxdisk/track"

// RegisterAll registers every handler this package knows about with reg, in
// the fixed order callers should list them as analysis candidates: specific
// formats first, the weak-bit protections next, and the two catch-alls
// (long track, unformatted) last.
func RegisterAll(reg *track.Registry) {
	for _, h := range []track.Handler{
		NewAmigaDOS(),
		NewAmigaDOSLabelled(),
		NewCopylock(),
		NewRNCPDOS(),
		NewIBMMFMDD(),
		NewIBMMFMHD(),
		NewDungeonMasterWeak(),
		NewChaosStrikesBackWeak(),
		NewLongTrack(),
		NewUnformatted(),
	} {
		reg.Register(h)
	}
}
