// Command promptrelayd serves browser-automation sessions over HTTP: one
// serialized worker per configured provider, lazy session construction, and
// staged startup probes.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
