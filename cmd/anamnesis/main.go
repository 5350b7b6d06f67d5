package main

import (
	"os"

	"github.com/soundprediction/anamnesis/cmd/anamnesis/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
