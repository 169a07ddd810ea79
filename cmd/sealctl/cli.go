package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "hash":
		return runHash(args[2:])
	case "resolve":
		return runResolve(args[2:])
	case "verify":
		return runVerify(args[2:])
	case "seal":
		return runSeal(args[2:])
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "sealctl"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(stderr, "usage:\n")
	fmt.Fprintf(stderr, "  %s hash --in <file> [--expect <hex>]\n", name)
	fmt.Fprintf(stderr, "  %s resolve [--server <url>] (--hash <hex>|--envelope-id <id>|--record-id <id>) [--lane rot|sandbox] [--expires-in <seconds>] [--recompute]\n", name)
	fmt.Fprintf(stderr, "  %s verify [--server <url>] --envelope-id <id> [--recompute]\n", name)
	fmt.Fprintf(stderr, "  %s seal [--server <url>] --record-id <id>\n", name)
}
