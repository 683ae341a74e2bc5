// ./main.go
package main

import (
	"github.com/xkilldash9x/thumbor-attrs/cmd"
)

// main is the entry point for the thumbor-attrs CLI.
func main() {
	cmd.Execute()
}
