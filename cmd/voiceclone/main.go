// Command voiceclone runs voice conversions and maintenance tasks from the shell.
package main

import (
	"fmt"
	"os"
)

func main() {
	err := run(newRootCmd())
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		os.Exit(1)
	}
}
