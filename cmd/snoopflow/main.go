package main

import (
	"github.com/joho/godotenv"

	"snoopflow/internal/cli"
	"snoopflow/internal/logging"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cli.Execute(logging.NewLoggerWithConfig(logging.LogConfig{Level: "info", Console: true}))
}
