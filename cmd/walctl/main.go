package main

import (
	"os"

	"github.com/INLOpen/nexuswal/cmd/walctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
