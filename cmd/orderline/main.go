// Command orderline runs the example pipeline driver: it submits N
// orders, waits for graceful shutdown, and prints the result.
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/orderline/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
