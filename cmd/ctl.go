package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"firestige.xyz/wirecat/internal/api"
	"firestige.xyz/wirecat/internal/sink"
)

// ctlCmd groups the commands that drive a running "wirecat serve".
var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Control a running wirecat daemon",
	Long: `Control a running "wirecat serve" through its HTTP API (see --api).

Subcommands:
  status      - Show device, capture state and packet count
  start       - Start capturing
  stop        - Stop capturing
  clear       - Drop stored packets and restart numbering
  list        - List stored packets, optionally filtered
  reassemble  - Reassemble the IPv4 datagram a fragment belongs to
  export      - Print the capture log
  save        - Have the daemon save the capture log`,
}

var ctlTimeout time.Duration

func init() {
	ctlCmd.PersistentFlags().DurationVar(&ctlTimeout, "timeout", 10*time.Second, "request timeout")

	for _, action := range []string{"start", "stop", "clear"} {
		action := action
		ctlCmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: strings.ToUpper(action[:1]) + action[1:] + " the capture",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				printJSON(ctlCall(func(c *api.Client, ctx context.Context) ([]byte, error) {
					return c.Control(ctx, action)
				}))
			},
		})
	}

	ctlCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show capture status",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printJSON(ctlCall(func(c *api.Client, ctx context.Context) ([]byte, error) {
				return c.State(ctx)
			}))
		},
	})

	ctlCmd.AddCommand(&cobra.Command{
		Use:   "list [filter expression]",
		Short: "List stored packets",
		Long: `List stored packets. Everything after "--" is the filter expression.

Examples:
  wirecat ctl list
  wirecat ctl list -- -p udp -sport 53`,
		DisableFlagParsing: true,
		Run: func(cmd *cobra.Command, args []string) {
			expr := joinFilterArgs(args)
			body := ctlCall(func(c *api.Client, ctx context.Context) ([]byte, error) {
				return c.Packets(ctx, expr)
			})
			renderPackets(os.Stdout, body)
		},
	})

	ctlCmd.AddCommand(&cobra.Command{
		Use:   "reassemble <seq>",
		Short: "Reassemble the datagram of a stored fragment",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			seq, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				exitWithError("invalid sequence number", err)
			}
			printJSON(ctlCall(func(c *api.Client, ctx context.Context) ([]byte, error) {
				return c.Reassemble(ctx, seq)
			}))
		},
	})

	ctlCmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print the capture log",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Stdout.Write(ctlCall(func(c *api.Client, ctx context.Context) ([]byte, error) {
				return c.Export(ctx)
			}))
		},
	})

	ctlCmd.AddCommand(&cobra.Command{
		Use:   "save [name]",
		Short: "Save the capture log in the daemon's export directory",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			printJSON(ctlCall(func(c *api.Client, ctx context.Context) ([]byte, error) {
				return c.Save(ctx, path)
			}))
		},
	})
}

func ctlCall(fn func(*api.Client, context.Context) ([]byte, error)) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), ctlTimeout)
	defer cancel()

	body, err := fn(api.NewClient(apiAddr, ctlTimeout), ctx)
	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
		exitWithError(fmt.Sprintf("request failed (%d)", apiErr.Status), errors.New(apiErr.Message))
	case err != nil:
		exitWithError("daemon is not running or API is unreachable", err)
	}
	return body
}

func printJSON(body []byte) {
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		os.Stdout.Write(body)
		return
	}
	fmt.Println(out.String())
}

func renderPackets(w io.Writer, body []byte) {
	var resp struct {
		Count   int            `json:"count"`
		Packets []sink.Summary `json:"packets"`
		Help    string         `json:"help"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		exitWithError("failed to parse packet list", err)
	}
	if resp.Help != "" {
		fmt.Fprint(w, resp.Help)
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"No.", "Time", "Source", "Destination", "Protocol", "Length", "Info"})
	table.SetAutoWrapText(false)
	for _, p := range resp.Packets {
		table.Append([]string{
			strconv.FormatUint(p.No, 10),
			p.Time.Format("15:04:05.000000"),
			p.Source,
			p.Dest,
			p.Protocol,
			strconv.Itoa(p.Length),
			p.Info,
		})
	}
	table.SetFooter([]string{"", "", "", "", "", "Total", strconv.Itoa(resp.Count)})
	table.Render()
}
