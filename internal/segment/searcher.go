package segment

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Result is one document's hit for a query: its id and the number of query
// terms it matched.
type Result struct {
	DocID uint32
	Score int
}

// Search scans every reader in parallel for terms (sorted, unique query
// terms) and returns the merged, unfiltered score-per-docId results across
// all of them: a document appearing in more than one segment (impossible in
// practice, since a doc lives in exactly one segment at a time, but not
// assumed here) has its scores summed.
func Search(ctx context.Context, readers []*Reader, terms []uint32) ([]Result, error) {
	partials := make([]map[uint32]int, len(readers))

	g, ctx := errgroup.WithContext(ctx)
	for i, r := range readers {
		i, r := i, r
		g.Go(func() error {
			scan := r.NewScan()
			counts := make(map[uint32]int)
			for _, term := range terms {
				if ctx.Err() != nil {
					break
				}
				if _, err := scan.Lookup(term, func(docID uint32) {
					counts[docID]++
				}); err != nil {
					return err
				}
			}
			partials[i] = counts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[uint32]int)
	for _, counts := range partials {
		for docID, score := range counts {
			merged[docID] += score
		}
	}

	results := make([]Result, 0, len(merged))
	for docID, score := range merged {
		results = append(results, Result{DocID: docID, Score: score})
	}
	SortResults(results)
	return results, nil
}

// SortResults orders results by descending score, then ascending docId for
// a stable, deterministic order among ties.
func SortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
}

// ApplyTopScorePercent drops every result whose score is below percent% of
// the top result's score, then caps the remainder to maxResults. results
// must already be sorted by SortResults. percent <= 0 or >= 100 disables
// the cutoff; maxResults <= 0 disables the cap.
func ApplyTopScorePercent(results []Result, percent, maxResults int) []Result {
	if len(results) == 0 {
		return results
	}
	if percent > 0 && percent < 100 {
		topScore := results[0].Score
		threshold := (topScore*percent + 99) / 100
		cut := len(results)
		for i, r := range results {
			if r.Score < threshold {
				cut = i
				break
			}
		}
		results = results[:cut]
	}
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}
