// Package main is the entry point for the wirecat packet capture tool.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/wirecat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
