package main

import (
	"cardsexport/cmd/cardsexport/cmd"

	"github.com/joho/godotenv"
)

func main() {
	// Optional; env vars may come from anywhere.
	_ = godotenv.Load()

	cmd.Execute()
}
