package main

import (
	"fmt"
	"os"

	"github.com/Avinash-jetwani/glazing-ai-bot/cmd/glazing/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
