// Command looperd is the entry point for the loop engine CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Surajmusicproductions/looper-new/cmd/looperd"
)

func main() {
	if err := looperd.RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
