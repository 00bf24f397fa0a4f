// Package main provides coachctl, the headless companion to the coachmic app.
//
// Usage:
//
//	coachctl <command> [flags]
//
// Commands:
//
//	listen    - run a coaching session in the terminal
//	classify  - show how an utterance would be classified
//	backoff   - print the listen retry schedule
package main

import (
	"fmt"
	"os"

	"coachmic/cmd/coachctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
