package main

import (
	"fmt"
	"os"

	"github.com/ByteMirror/clawdcommit/cmd"
)

var version = "0.1.0"

func main() {
	if err := cmd.RunMCPServer(version, os.Getenv("CLAWDCOMMIT_REPO")); err != nil {
		fmt.Fprintf(os.Stderr, "clawdcommit-mcp: %v\n", err)
		os.Exit(1)
	}
}
