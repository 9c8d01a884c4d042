// hearthkeep is the device-side command line client: it reads and writes
// the local cache and queue, and syncs with the household server when
// reachable.
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
