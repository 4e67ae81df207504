package cmd

import (
	"fmt"

	"github.com/sergev/fluxdisk/config"
	"github.com/sergev/fluxdisk/format"
	"github.com/sergev/fluxdisk/track"

	"github.com/spf13/cobra"
)

// sourceName overrides the config file's default capture-source profile;
// left empty, PersistentPreRunE falls back to conf.Default.
var sourceName string

// activeSource and registry are populated once per invocation by
// PersistentPreRunE and read by every subcommand.
var (
	activeSource *config.Source
	registry     *track.Registry
)

var rootCmd = &cobra.Command{
	Use:   "fluxdisk",
	Short: "Decode and encode floppy disk flux captures",
	Long: "fluxdisk turns SuperCard Pro, KryoFlux and DiscFerret flux captures into " +
		"disk images, and disk images back into per-track bitstreams, trying each " +
		"capture source's configured candidate handlers in order.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		name := sourceName
		if name == "" {
			name = conf.Default
		}
		src, ok := conf.Select(name)
		if !ok {
			return fmt.Errorf("source %q is not listed in the config file", name)
		}
		activeSource = src

		registry = track.NewRegistry()
		format.RegisterAll(registry)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sourceName, "source", "",
		"capture source profile to use (default: the config file's `default` entry)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
