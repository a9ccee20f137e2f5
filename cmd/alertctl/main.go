package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/gyaneshwarpardhi/alertflow/internal/cli"
)

func main() {
	_ = godotenv.Load()
	if err := cli.NewRootCommand(nil).Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
