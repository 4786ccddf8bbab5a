package main

import (
	"fmt"
	"os"

	"github.com/charleschow/rugstream/internal/config"
	"github.com/charleschow/rugstream/internal/process"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	process.Run(cfg)
}
