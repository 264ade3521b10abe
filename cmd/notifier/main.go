package main

import (
	"fmt"
	"os"

	"github.com/sitepulse-hq/sitepulse-notifier/internal/cli"
	"github.com/sitepulse-hq/sitepulse-notifier/internal/logger"
)

var version = "dev"

func main() {
	cli.SetVersion(version)

	err := cli.Execute()
	logger.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "notifier: %v\n", err)
		os.Exit(1)
	}
}
