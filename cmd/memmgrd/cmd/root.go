package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "memmgrd",
	Short: "Memory-manager coordinator for a clustered authoritative DNS server",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./memmgrd.yaml", "config file (default is ./memmgrd.yaml)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
