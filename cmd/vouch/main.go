package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err == flag.ErrHelp {
		os.Exit(2)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "verify":
		return runVerify(ctx, args)
	case "", "help", "-h", "--help":
		usage()
		return flag.ErrHelp
	default:
		return fmt.Errorf("vouch %s: unknown command", cmd)
	}
}

func usage() {
	fmt.Println(`
vouch is a bounded verifier for Go programs.

Usage:

	vouch <command> [arguments]

The commands are:

	verify    verify the proof harnesses in the given packages
`[1:])
}
