package main

import (
	"os"

	"github.com/sudspoint/washcore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
