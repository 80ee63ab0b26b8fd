package main

import (
	"fmt"
	"os"

	"github.com/JaysonAlbert/log-search-mcp/internal/cli"
)

// set by -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
