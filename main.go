// Timegraph - versioned graph store with time travel.
//
// Timegraph keeps every version of every node, edge and component so the
// graph can be read as it stood at any instant.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/timegraph/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
