package main

import (
	"os"

	"github.com/ProductLabsUS/Flusso-Automation/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
