package main

import (
	"os"

	"github.com/dudufisio/fisioflow/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	// Restart the binary when it is rebuilt in place (dev loop).
	if os.Getenv("FISIOFLOW_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
