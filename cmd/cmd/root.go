// Package cmd is the CLI entry point; the commands themselves live in the
// handlers package.
package cmd

import (
	"infodigest/cmd/handlers"
)

// Execute runs the root command.
func Execute() {
	handlers.Execute()
}
