package main

import (
	"github.com/lefinal/event-status-server/app"
	"os"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
