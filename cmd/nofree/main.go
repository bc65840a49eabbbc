// Package main is the single-binary entrypoint for nofree.
package main

import "github.com/nofree-network/nofree/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
