// Command docqa is the entry point for the DocQA document question
// answering service. It provides a CLI (via Cobra) for ingesting documents
// and asking one-shot questions, and an HTTP server with a streaming
// query API.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/meridell/docqa-go/cmd/docqa/commands"
)

func main() {
	// Load .env if present. A missing file is fine; the environment rules.
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
