// Command saimiris runs the saimiris probing agent and its companion
// client tool for submitting ad hoc measurements onto the agent's
// inbound stream.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
