package main

import (
	"github.com/moshe-connectio/car-template-demo/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
