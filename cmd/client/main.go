// Command escrow is the command-line client of the key escrow server.
package main

import (
	"cmp"
	"fmt"
	"os"

	"github.com/atinyakov/keyescrow/internal/client/cli"
)

var (
	version   string
	buildDate string
)

func main() {
	root := cli.NewRootCommand()
	root.Version = fmt.Sprintf("%s (built %s)", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
