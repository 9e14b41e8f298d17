// The main package for the sourcegate executable.
package main

import (
	"github.com/vinoscout/sourcegate/cmd"
)

func main() {
	cmd.Execute()
}
