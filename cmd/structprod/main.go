package main

import (
	"os"

	"github.com/meridianwm/structprod/cmd/structprod/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
