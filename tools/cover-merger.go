//go:build tools

// Merges per-package *.cover profiles into a single coverage.out so
// unit and integration runs report one combined figure.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	out := "coverage.out"
	if len(os.Args) > 1 {
		out = os.Args[1]
	}

	profiles, err := filepath.Glob("*.cover")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to glob *.cover: %v\n", err)
		os.Exit(1)
	}
	if len(profiles) == 0 {
		fmt.Fprintln(os.Stderr, "warning: no .cover files found")
		return
	}

	seen := make(map[string]struct{})
	var blocks []string

	for _, profile := range profiles {
		f, err := os.Open(profile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", profile, err)
			continue
		}

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "mode:") {
				continue
			}
			if _, ok := seen[line]; ok {
				continue
			}
			seen[line] = struct{}{}
			blocks = append(blocks, line)
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", profile, err)
		}
		f.Close()
	}

	merged, err := os.Create(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create %s: %v\n", out, err)
		os.Exit(1)
	}
	defer merged.Close()

	w := bufio.NewWriter(merged)
	fmt.Fprintln(w, "mode: set")
	for _, block := range blocks {
		fmt.Fprintln(w, block)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", out, err)
		os.Exit(1)
	}
}
