package main

import (
	"os"

	"github.com/psantana5/loopd/cmd/loopd/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
