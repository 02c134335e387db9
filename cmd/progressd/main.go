// Package main is the single-binary entrypoint of the progress engine.
package main

import "github.com/lfmcagency/fitness-tracker-sub001/internal/interface/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
