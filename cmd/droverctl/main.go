package main

import (
	"os"

	"github.com/ternarybob/drover/cmd/droverctl/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
