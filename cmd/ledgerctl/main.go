// Command ledgerctl runs ledger maintenance operations from a shell.
package main

import (
	"fmt"
	"os"
)

var Version = "dev"

func main() {
	rootCmd := newRootCmd(openLedger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
