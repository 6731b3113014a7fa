package cmd

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"firestige.xyz/wirecat/internal/capture"
	"firestige.xyz/wirecat/internal/config"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `List the network interfaces the configured capture source can open,
with their IPv4 and IPv6 addresses.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDevicesCommand()
	},
}

var devicesSource string

func init() {
	devicesCmd.Flags().StringVar(&devicesSource, "source", "",
		"capture source to query (pcap, afpacket); defaults to capture.source from config")
}

func runDevicesCommand() {
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError("failed to load config", err)
	}
	name := cfg.Capture.Source
	if devicesSource != "" {
		name = devicesSource
	}

	src, err := capture.NewSource(name)
	if err != nil {
		exitWithError("failed to create capture source", err)
	}
	devices, err := src.ListDevices()
	if err != nil {
		exitWithError("failed to list devices", err)
	}
	if len(devices) == 0 {
		exitWithError("no capture devices found", nil)
	}

	renderDevices(os.Stdout, devices)
}

func renderDevices(w io.Writer, devices []capture.Device) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Name", "Description", "IPv4", "IPv6"})
	table.SetAutoWrapText(false)
	for i, d := range devices {
		table.Append([]string{
			strconv.Itoa(i + 1),
			d.Name,
			d.Description,
			strings.Join(d.IPv4, "\n"),
			strings.Join(d.IPv6, "\n"),
		})
	}
	table.Render()
}
