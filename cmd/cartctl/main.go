// cartctl drives the cart sync engine from the command line. Each invocation
// restores the session from a local storage file, runs one operation and
// waits for the server write before exiting.
//
// Examples:
//
//	cartctl add sku-1 --qty 2 --title "Deck" --price 12.50
//	cartctl login u-123 --server http://localhost:8080
//	cartctl show --format json
//	cartctl logout
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
