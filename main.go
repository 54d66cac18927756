package main

import (
	"os"

	"github.com/ibimina/kbengine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
