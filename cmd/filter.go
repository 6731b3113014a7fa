package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/filter"
)

var filterCmd = &cobra.Command{
	Use:   "filter <expression>",
	Short: "Check a display filter expression",
	Long: `Check a display filter expression without capturing.

Examples:
  wirecat filter -- -p tcp -dport 80
  wirecat filter -- -h`,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: true,
	Run: func(cmd *cobra.Command, args []string) {
		runFilterCommand(args)
	},
}

func runFilterCommand(args []string) {
	rule, err := filter.Compile(joinFilterArgs(args))
	switch {
	case errors.Is(err, core.ErrHelp):
		fmt.Print(filter.Help())
	case err != nil:
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	case rule.Empty():
		fmt.Println("VALID: empty filter matches every packet")
	default:
		fmt.Printf("VALID: %s\n", rule)
	}
}

// joinFilterArgs rebuilds a filter expression from shell-split arguments,
// re-quoting values so "-c '47 45'" survives.
func joinFilterArgs(args []string) string {
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = strconv.Quote(a)
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}
