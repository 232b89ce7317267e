// The main package for the fightgraph-crawler executable.
package main

import (
	"github.com/JakeFAU/fightgraph-crawler/cmd"
)

func main() {
	cmd.Execute()
}
