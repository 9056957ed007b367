package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hearthhome/hubauth/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hubauthd",
	Short: "hubauthd is the hub authentication service",
	Long: `hubauthd hosts the hub's authentication core: pluggable auth
providers, browser login flows, and the refresh and access token
registry, exposed over a small HTTP API.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./hubauth.yaml)")
}

func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		return config.LoadConfigFrom(cfgFile)
	}
	return config.LoadConfig()
}
