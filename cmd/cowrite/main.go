package main

import (
	"os"

	"github.com/amaydixit11/cowrite/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
