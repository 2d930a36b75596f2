// Package main is the single-binary entrypoint for torrentnode.
// The same binary runs the node, the CLI commands and the sandbox worker.
package main

import "github.com/torrentnode/torrentnode/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
