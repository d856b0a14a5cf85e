/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"
	"strings"

	"relaybot/pkg/config"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relaybot",
	Short: "Pluggable chat bot with message correlation",
	Long:  "Relaybot connects chat channels to a pluggable handler pipeline, command routing and message correlation.",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $RELAYBOT_CONFIG or ./config.yaml)")
}

// loadConfig reads the --config file when given, otherwise the discovered one.
func loadConfig() (*config.Config, error) {
	if path := strings.TrimSpace(configPath); path != "" {
		return config.Load(path)
	}

	return config.LoadConfig()
}
