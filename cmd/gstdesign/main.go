// Package main implements the gstdesign CLI: fiducial, germ and experiment
// design selection for gate-set tomography from the command line.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
