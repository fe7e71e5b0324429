// Command zacharie runs the carcass custody core: verification of stored
// dispositions, audit archiving and the device sync loop.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
