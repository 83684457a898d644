// ./main.go
package main

import (
	"github.com/dfalqueto/senafine/cmd"
)

// main is the entry point for the senafine CLI.
func main() {
	cmd.Execute()
}
