package main

import (
	"os"

	"github.com/arzzra/rcs_client/cmd/rcsd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
