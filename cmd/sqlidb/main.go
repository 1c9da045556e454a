// Command sqlidb inspects and modifies sqlidb databases.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/sqlidb/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// A bare ExitError was already reported through the output formatter.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
