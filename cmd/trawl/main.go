package main

import (
	"fmt"
	"os"

	"github.com/praetorian-inc/trawl"
)

func main() {
	if err := trawl.Initialize(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	err := Execute()
	_ = trawl.Finalize()
	if err != nil {
		os.Exit(1)
	}
}
