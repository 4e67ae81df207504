package cmd

import (
	"fmt"
	"math/bits"

	"github.com/sergev/fluxdisk/pll"

	"github.com/spf13/cobra"
)

var (
	analyseCaptureFormat string
	analyseContainerName string
	analyseTracks        int
)

var analyseCmd = &cobra.Command{
	Use:   "analyse CAPTURE OUTPUT",
	Short: "Decode a flux capture into a disk image",
	Long: "analyse reads a flux capture track by track, identifies each track's " +
		"format by trying the active source's candidate handlers in order, and " +
		"writes the decoded tracks to OUTPUT as an ADF or DSK image.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		capturePath, outPath := args[0], args[1]

		src, err := openCapture(analyseCaptureFormat, capturePath)
		if err != nil {
			return fmt.Errorf("failed to open capture: %w", err)
		}
		cont, err := newContainer(analyseContainerName, analyseTracks)
		if err != nil {
			return err
		}

		disk := cont.Init()
		stream := pll.Open(src, activeSource.NominalCellNs)

		var unidentified, damaged int
		for tracknr := range disk.Tracks {
			if err := src.Reset(tracknr); err != nil {
				fmt.Printf("track %d: no capture data (%v)\n", tracknr, err)
				continue
			}

			if err := cont.WriteRaw(disk, tracknr, registry, stream, activeSource.Candidates); err != nil {
				fmt.Printf("track %d: %v\n", tracknr, err)
				continue
			}

			ti := disk.Tracks[tracknr]
			switch {
			case ti.Type == "unidentified":
				unidentified++
				fmt.Printf("track %d: unidentified\n", tracknr)
			case bits.OnesCount32(ti.ValidSectors) < ti.NrSectors:
				damaged++
				fmt.Printf("track %d: %s, %d/%d sectors valid\n", tracknr, ti.TypeName, bits.OnesCount32(ti.ValidSectors), ti.NrSectors)
			default:
				fmt.Printf("track %d: %s\n", tracknr, ti.TypeName)
			}
		}

		if err := cont.Close(outPath, disk); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}

		fmt.Printf("wrote %s (%d tracks, %d unidentified, %d damaged)\n", outPath, len(disk.Tracks), unidentified, damaged)
		return nil
	},
}

func init() {
	analyseCmd.Flags().StringVar(&analyseCaptureFormat, "format", "", "capture format: scp, kryoflux or discferret (required)")
	analyseCmd.Flags().StringVar(&analyseContainerName, "container", "adf", "output container: adf or dsk")
	analyseCmd.Flags().IntVar(&analyseTracks, "tracks", 0, "track count for a dsk container (0 = container default)")
	cobra.CheckErr(analyseCmd.MarkFlagRequired("format"))
	rootCmd.AddCommand(analyseCmd)
}
