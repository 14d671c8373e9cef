// Package main provides todoctl, an interactive shell over the todo
// collection.
package main

import (
	"os"
	"strings"

	"github.com/calvinalkan/todo-api/internal/shell"
)

func main() {
	env := make(map[string]string)

	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	os.Exit(shell.Main(os.Stdout, os.Stderr, os.Args, env))
}
