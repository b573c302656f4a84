// Package main implements a mock ACP agent that speaks JSON-RPC over
// stdin/stdout. It streams canned replies so the bridge can be exercised
// without a real model behind it.
//
// A prompt starting with "/e2e <scenario>" selects a fixed scenario; any
// other prompt gets an echo that proposes a one-line edit.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

func main() {
	delay := parseDelayFromArgs(os.Args)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	a := newAgent(json.NewEncoder(os.Stdout), scanner, delay)
	if err := a.serve(); err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: %v\n", err)
		os.Exit(1)
	}
}

// parseDelayFromArgs extracts the --delay value in milliseconds between
// streamed chunks. The default is 20ms.
func parseDelayFromArgs(args []string) int {
	value := ""
	for i, arg := range args[1:] {
		if arg == "--delay" && i+1 < len(args)-1 {
			value = args[i+2]
		}
		if v, ok := strings.CutPrefix(arg, "--delay="); ok {
			value = v
		}
	}
	var ms int
	if _, err := fmt.Sscanf(value, "%d", &ms); err != nil || ms < 0 {
		return 20
	}
	return ms
}
