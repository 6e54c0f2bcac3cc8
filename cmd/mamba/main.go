package main

import (
	"fmt"
	"os"

	"github.com/SandrineP/mamba/internal/app"
	"github.com/SandrineP/mamba/internal/errs"
)

func main() {
	if err := app.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", errs.UserMessage(err))
		os.Exit(1)
	}
}
