package main

import (
	"context"
	"os"

	"github.com/compozy/policyrag/cli"
)

func main() {
	cmd := cli.RootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		cli.OutputError(cmd, err)
		os.Exit(1)
	}
}
