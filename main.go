package main

import (
	"fmt"
	"os"

	"ufo/internal/cmd"
	"ufo/internal/output"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if output.IsJSON() {
			output.PrintError(os.Stderr, output.ErrorCode(err), err.Error())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(output.ExitError)
	}
}
