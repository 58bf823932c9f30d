package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/seantiz/kiln/cmd/kiln/commands"
)

func main() {
	// A missing .env file is fine; the environment and flags still apply.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
