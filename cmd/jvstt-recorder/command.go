package main

import (
	"fmt"
	"strconv"
	"strings"
)

// command is one parsed stdin line.
type command struct {
	name    string
	seconds int
	err     error
}

// parseCommand parses a stdin line. "record" takes an optional duration in
// whole seconds and falls back to defaultSeconds.
func parseCommand(line string, defaultSeconds int) command {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return command{}
	}

	name := fields[0]
	switch name {
	case "r", "rec":
		name = "record"
	case "s":
		name = "stop"
	case "t":
		name = "transcribe"
	case "q", "exit":
		name = "quit"
	case "?":
		name = "help"
	}

	c := command{name: name}
	if name != "record" {
		if len(fields) > 1 {
			c.err = fmt.Errorf("%s takes no arguments", name)
		}
		return c
	}

	c.seconds = defaultSeconds
	if len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			c.err = fmt.Errorf("invalid duration %q", fields[1])
			return c
		}
		c.seconds = n
	}
	return c
}
