// Command agvsim runs the warehouse fleet simulation headless and exports
// its statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
)

const banner = `
   __ _  __ ___   __      ___(_)_ __ ___
  / _' |/ _' \ \ / /____/ __| | '_ ' _ \
 | (_| | (_| |\ V /_____\__ \ | | | | | |
  \__,_|\__, | \_/      |___/_|_| |_| |_|
        |___/
`

func usage() {
	fmt.Println("Usage: agvsim <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run   -config FILE [-layout FILE]   Run a simulation and export statistics")
	fmt.Println("  show  -db FILE RUN_ID               Print a stored run")
	fmt.Println("  map   -layout FILE                  Print a layout as ASCII")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runSim(ctx, os.Args[2:])
	case "show":
		err = runShow(ctx, os.Args[2:])
	case "map":
		err = runMap(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, flag.ErrHelp) {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}
