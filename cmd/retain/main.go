package main

import (
	"fmt"
	"os"

	"github.com/lazypower/retain/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "retain: %v\n", err)
		os.Exit(1)
	}
}
