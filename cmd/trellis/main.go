package main

import (
	"github.com/joho/godotenv"

	"github.com/trellis-dev/trellis/internal/cli"
)

func main() {
	// Optional .env for local overrides; absence is not an error.
	_ = godotenv.Load()

	cli.Execute()
}
