package cmd

import (
	"fmt"

	"github.com/sergev/fluxdisk/container"
	"github.com/sergev/fluxdisk/fluxcapture/discferret"
	"github.com/sergev/fluxdisk/fluxcapture/kryoflux"
	"github.com/sergev/fluxdisk/fluxcapture/scp"
	"github.com/sergev/fluxdisk/pll"
)

// openCapture opens path as a flux capture of the named back-end: "scp" and
// "discferret" are single files, "kryoflux" is a directory of per-track
// STREAM files.
func openCapture(format, path string) (pll.Source, error) {
	switch format {
	case "scp":
		return scp.Open(path)
	case "kryoflux":
		return kryoflux.Open(path)
	case "discferret":
		return discferret.Open(path)
	default:
		return nil, fmt.Errorf("unknown capture format %q (want scp, kryoflux or discferret)", format)
	}
}

// newContainer builds the named disk-image container. "dsk" accepts an
// explicit track count; 0 falls back to its own default.
func newContainer(name string, nrTracks int) (container.Container, error) {
	switch name {
	case "adf":
		return container.NewADF(), nil
	case "dsk":
		return container.NewDSK(nrTracks), nil
	default:
		return nil, fmt.Errorf("unknown container format %q (want adf or dsk)", name)
	}
}
