package main

import (
	"fmt"
	"os"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ambiguityd: %v\n", err)
		os.Exit(1)
	}
}
