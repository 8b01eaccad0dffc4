// Command mcp-authserver runs an OAuth 2.1 authorization server with a bearer
// protected MCP endpoint in one process.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
