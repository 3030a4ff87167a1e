package main

import (
	"fmt"
	"os"

	"github.com/lazypower/aide/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aide: %v\n", err)
		os.Exit(1)
	}
}
