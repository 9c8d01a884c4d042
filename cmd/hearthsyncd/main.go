// hearthsyncd is the Hearthkeep sync daemon: the server of record that
// applies batched device writes idempotently and pushes committed changes
// to connected devices.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
