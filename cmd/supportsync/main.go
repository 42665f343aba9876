package main

import (
	"context"
	"errors"
	"os"

	"github.com/taleforge/supportsync/internal/cmd"
)

var (
	executeCmd  = cmd.Execute
	mapExitCode = cmd.ExitCode
	terminate   = os.Exit
)

// exitCoder is implemented by errors that already know their exit code.
type exitCoder interface {
	ExitCode() int
}

func run(args []string) int {
	ctx := context.Background()
	if err := executeCmd(ctx, args); err != nil {
		var coded exitCoder
		if errors.As(err, &coded) {
			return coded.ExitCode()
		}
		return mapExitCode(err)
	}
	return 0
}

func main() {
	terminate(run(os.Args[1:]))
}
