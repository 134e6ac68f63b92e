// Package main is the entry point for the cubec binary.
package main

import (
	"os"

	cli "github.com/zzzcdf/cube.js/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
