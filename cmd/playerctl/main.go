// Package main provides playerctl, an operator tool for inspecting player
// balances and the gift ledger and for clearing stale login flags.
package main

import "os"

func main() {
	if err := newRootCmd(openBackend, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
