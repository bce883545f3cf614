package rt

import "github.com/zboralski/hnxc/internal/libc"

// Greeting is what Hello writes.
const Greeting = "Hello from HNX libc!\n"

// Hello writes Greeting to stdout, resuming after partial writes. It returns 0 once
// the whole greeting was accepted and 1 if a write fails.
func Hello(c *libc.C) int {
	if _, err := c.WriteAll(1, []byte(Greeting)); err != nil {
		return 1
	}
	return 0
}
