package main

import (
	"os"

	"github.com/go-i2p/go-msgrouter/lib/config"
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
)

var log = logger.GetGoI2PLogger()

var rootCmd = &cobra.Command{
	Use:   "msgrouter",
	Short: "Route signed message envelopes between identities",
	Long: `msgrouter authenticates and routes versioned message envelopes.

Relay envelopes are queued until their destination connects and fetches
them; messages are dispatched to the handler registered for their
protocol. Set DEBUG_I2P=debug to enable logging.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "",
		"config file (default $HOME/"+config.MSGROUTER_BASE_DIR+"/config.yaml)")
	rootCmd.AddCommand(serveCmd, keygenCmd, keysCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Debug("command failed")
		os.Exit(1)
	}
}
