package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/memberman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "memberman: %v\n", err)
		os.Exit(1)
	}
}
