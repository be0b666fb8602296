package main

import (
	"os"

	"github.com/liveserve/liveserve/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
