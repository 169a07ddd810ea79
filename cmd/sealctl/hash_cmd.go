package main

import (
	"flag"
	"fmt"
	"os"

	"sealreg/internal/infra/crypto"
)

func runHash(args []string) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var inPath string
	var expect string
	fs.StringVar(&inPath, "in", "", "input file")
	fs.StringVar(&expect, "expect", "", "expected sha256 hex; exit 2 on mismatch")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if inPath == "" {
		fmt.Fprintln(stderr, "hash requires --in")
		return 1
	}

	f, err := os.Open(inPath)
	if err != nil {
		fmt.Fprintf(stderr, "open input: %v\n", err)
		return 1
	}
	defer f.Close()

	sum, size, err := crypto.HashReader(f)
	if err != nil {
		fmt.Fprintf(stderr, "hash input: %v\n", err)
		return 1
	}

	if expect == "" {
		fmt.Fprintln(stdout, sum)
		return 0
	}
	want, ok := crypto.NormalizeHash(expect)
	if !ok {
		fmt.Fprintln(stderr, "--expect must be a sha256 hex digest")
		return 1
	}
	if want != sum {
		fmt.Fprintf(stdout, "mismatch %s (%d bytes), expected %s\n", sum, size, want)
		return 2
	}
	fmt.Fprintf(stdout, "match %s (%d bytes)\n", sum, size)
	return 0
}
