package main

import (
	"fmt"
	"os"

	"github.com/temirov/ghmigrate/cmd/cli"
)

const (
	exitErrorTemplateConstant = "ghmigrate: %v\n"
)

// main executes the ghmigrate command-line application.
func main() {
	if executionError := cli.Execute(); executionError != nil {
		fmt.Fprintf(os.Stderr, exitErrorTemplateConstant, executionError)
		os.Exit(1)
	}
}
