package main

import (
	"os"

	"segfit/cmd/segfitctl/root"
)

func main() {
	cmd := root.NewCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
