package main

import (
	"os"

	"github.com/straja-ai/postscore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
