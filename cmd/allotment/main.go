package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/allotment/internal/cli"
	"github.com/roach88/allotment/internal/ir"
)

func main() {
	rootCmd := cli.NewRootCommand()
	rootCmd.Version = ir.EngineVersion

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
