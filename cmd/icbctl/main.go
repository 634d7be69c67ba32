// Package main implements icbctl, the operator CLI for the instrument
// console bridge. It talks to the shared command/response files directly,
// which makes it usable both against a live host console and against the
// built-in demo host.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
