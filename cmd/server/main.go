package main

import (
	"os"

	"github.com/colsync/server/internal/observability"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		observability.Errorf("%v", err)
		os.Exit(1)
	}
}
