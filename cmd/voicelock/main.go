// Package main is the entry point for the voicelock CLI.
//
// Usage:
//
//	voicelock [flags] <command> [args]
//
// Commands:
//
//	enroll     - Enroll an identity from WAV samples
//	verify     - Verify a claimed identity against one utterance
//	identify   - Identify the best-matching enrolled identity
//	list       - List enrolled identities
//	history    - Show the version history of one identity
//	revoke     - Revoke an identity's voiceprint
//	status     - Show enrollment and lockout status
//	config     - Configuration management
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/voicelock/voicelock/cmd/voicelock/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
