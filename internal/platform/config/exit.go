package config

import (
	"fmt"
	"os"
)

// Exit codes shared by the settlement commands.
const (
	// ExitFailure reports a command that started but could not finish.
	ExitFailure = 1
	// ExitUsage reports invalid flags, environment or arguments.
	ExitUsage = 2
)

// Exitf writes a formatted line to stderr and exits with code.
func Exitf(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
