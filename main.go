// The main package for the leadharvest executable.
package main

import (
	"github.com/JakeFAU/leadharvest/cmd"
)

func main() {
	cmd.Execute()
}
