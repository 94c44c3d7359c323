package main

import (
	"github.com/pitchforge/engine/internal/cli"
)

func main() {
	cli.Execute()
}
