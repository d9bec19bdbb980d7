package main

import (
	"os"

	"github.com/villaretreat/imagepipe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
