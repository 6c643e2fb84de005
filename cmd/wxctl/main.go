// Command wxctl is the operator CLI: offline crosswind math, airport
// resolution against the loaded directory, and database housekeeping.
package main

import (
	"fmt"
	"os"
)

// Version is injected at build time
var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
