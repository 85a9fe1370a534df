// Chademo runs one side of a CHAdeMO session on a CAN bus, simulates a
// complete session in process, or decodes captured frames.
package main

import (
	"os"

	_ "github.com/samsamfire/gochademo/pkg/can/loopback"
	_ "github.com/samsamfire/gochademo/pkg/can/socketcan"
	_ "github.com/samsamfire/gochademo/pkg/can/socketcanraw"
	_ "github.com/samsamfire/gochademo/pkg/can/virtual"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "chademo",
	Short: "CHAdeMO DC charging protocol tool",
	Long: `Chademo - run, simulate and inspect CHAdeMO DC charging sessions.

Either side of the connector can be run (charger or vehicle), including the
IEEE 2030.1.1 bidirectional extension.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
