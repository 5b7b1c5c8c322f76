// The main package for the prospector executable.
package main

import (
	"github.com/NofaBC/prospector-api/cmd"
)

func main() {
	cmd.Execute()
}
