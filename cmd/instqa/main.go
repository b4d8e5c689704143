// Command instqa is the entry point for the institution question-answering
// service. It provides a CLI (via Cobra) for ingestion, one-shot questions and
// account bootstrap, and the HTTP API used by chat clients.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/instqa-go/cmd/instqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
