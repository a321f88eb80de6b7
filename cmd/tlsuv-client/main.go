// Command tlsuv-client drives pkg/streamconn against a real host from the
// command line; see internal/cli for the actual command tree.
package main

import (
	"fmt"
	"os"

	"github.com/weideli1015/tlsuv/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
