package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/install"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var f *install.Failure
		if !errors.As(err, &f) {
			// Failures were already printed by the reporter.
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
