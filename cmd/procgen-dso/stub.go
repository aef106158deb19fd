//go:build !procgen_dso

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "procgen-dso is a shared library: build it with -tags procgen_dso -buildmode=c-shared")
	os.Exit(2)
}
