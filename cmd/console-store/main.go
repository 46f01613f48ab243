package main

import (
	"os"

	"github.com/Sternrassler/console-store/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
