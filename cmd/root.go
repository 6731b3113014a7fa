// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	apiAddr    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wirecat",
	Short: "Wirecat - live packet capture and inspection",
	Long: `Wirecat captures frames from a network interface, decodes Ethernet, IPv4,
IPv6, ARP, TCP, UDP and ICMP headers, and keeps every accepted packet in an
in-memory capture that can be filtered, reassembled and saved as a hex log.

Run "wirecat capture" for a foreground listing, or "wirecat serve" to keep a
capture session behind the HTTP control API and drive it with "wirecat ctl".`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "127.0.0.1:8640",
		"control API address used by ctl commands")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(ctlCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
