// Command fpsearch is a standalone diagnostic tool that opens an index
// directory directly (no server) and runs a single search against it,
// printing the ranked results. It is grounded on the acoustid-server
// fpsearch tool: read a segment, parse a fingerprint given on the command
// line, search, print doc ids and scores.
//
// Usage:
//
//	go run ./cmd/fpsearch -dir ./data 1 2 3 4 5
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/acoustid-go/fpindex/internal/block"
	"github.com/acoustid-go/fpindex/internal/index"
	"github.com/acoustid-go/fpindex/internal/merge"
	"github.com/acoustid-go/fpindex/internal/store"
)

func main() {
	dataDir := flag.String("dir", "./data", "index data directory")
	maxResults := flag.Int("max-results", 500, "maximum number of results to return")
	topScorePercent := flag.Int("top-score-percent", 10, "drop results scoring below this percent of the top score")
	flag.Parse()

	terms, err := parseTerms(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fpsearch: %v\n", err)
		os.Exit(1)
	}
	if len(terms) == 0 {
		fmt.Fprintln(os.Stderr, "fpsearch: at least one fingerprint term is required")
		os.Exit(1)
	}

	dir := store.NewFSDirectory(*dataDir)
	ix, err := index.Open(dir, false, merge.DefaultPolicy(), block.DefaultSize, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fpsearch: opening index at %s: %v\n", *dataDir, err)
		os.Exit(1)
	}
	defer ix.Close()

	start := time.Now()
	results, err := ix.Search(context.Background(), terms, *maxResults, *topScorePercent)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fpsearch: search failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("search took %s, %d result(s)\n", elapsed, len(results))
	for _, r := range results {
		fmt.Printf("found %d with score %d\n", r.DocID, r.Score)
	}
}

func parseTerms(args []string) ([]uint32, error) {
	terms := make([]uint32, 0, len(args))
	for _, a := range args {
		n, err := strconv.ParseUint(a, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid term %q: %w", a, err)
		}
		terms = append(terms, uint32(n))
	}
	return terms, nil
}
