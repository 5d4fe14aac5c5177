// Command prefixctl is the operator companion to prefixd: it generates principal keys,
// mints request tokens and builds the attestation operations a submission carries.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
