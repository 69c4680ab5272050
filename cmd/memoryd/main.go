// Command memoryd is the long-term conversation memory service: it
// ingests captured CLI conversations, compresses them into retrievable
// memory units, and serves hybrid vector+keyword search and prompt
// injection over an MCP stdio surface, an HTTP surface, or both.
package main

import (
	"fmt"
	"os"

	"github.com/kart-io/memoryd/cmd/memoryd/app"
)

func main() {
	if err := app.NewCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
