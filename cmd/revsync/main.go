// Command revsync replicates revision-log text documents.
package main

import (
	"os"

	"github.com/roach88/revsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
