// The main package for the acquirer executable.
package main

import (
	"github.com/JakeFAU/url-acquirer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
