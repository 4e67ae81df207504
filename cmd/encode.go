package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sergev/fluxdisk/tbuf"

	"github.com/spf13/cobra"
)

var encodeContainerName string

var encodeCmd = &cobra.Command{
	Use:   "encode IMAGE OUTDIR",
	Short: "Encode a disk image into per-track bitstreams",
	Long: "encode opens IMAGE (an ADF or DSK disk image), looks up each track's " +
		"handler by the type name the image stored, and writes each track's " +
		"encoded MFM cell array to OUTDIR as track-NNN.mfm.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath, outDir := args[0], args[1]

		cont, err := newContainer(encodeContainerName, 0)
		if err != nil {
			return err
		}
		disk, ok, err := cont.Open(imagePath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", imagePath, err)
		}
		if !ok {
			return fmt.Errorf("%s does not look like a %s image", imagePath, encodeContainerName)
		}

		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", outDir, err)
		}

		var skipped int
		for tracknr := range disk.Tracks {
			ti := &disk.Tracks[tracknr]
			h, ok := registry.Lookup(ti.Type)
			if !ok {
				skipped++
				fmt.Printf("track %d: no handler registered for %q, skipping\n", tracknr, ti.Type)
				continue
			}

			var tb tbuf.Buffer
			// A handler whose track length isn't known upfront (e.g. unformatted's
			// track.WeakSentinel) computes its own length and re-Inits tb itself;
			// the placeholder size here only needs to be a valid allocation.
			initBits := ti.TotalBits
			if initBits <= 0 {
				initBits = 8
			}
			tb.Init(initBits, ti.DataBitoff, int64(tracknr)+1)
			h.ReadRaw(disk, tracknr, ti, &tb)
			tb.Finalise()

			outPath := filepath.Join(outDir, fmt.Sprintf("track-%03d.mfm", tracknr))
			if err := os.WriteFile(outPath, tb.MFM, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			fmt.Printf("track %d: %s -> %s\n", tracknr, ti.TypeName, outPath)
		}

		fmt.Printf("encoded %d tracks to %s (%d skipped)\n", len(disk.Tracks)-skipped, outDir, skipped)
		return nil
	},
}

func init() {
	encodeCmd.Flags().StringVar(&encodeContainerName, "container", "adf", "input container: adf or dsk")
	rootCmd.AddCommand(encodeCmd)
}
