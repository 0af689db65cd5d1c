// Package downloader fans discovered document links out to a fetch function
// under a bounded worker pool.
package downloader

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/docharvest/internal/classify"
	"github.com/JakeFAU/docharvest/internal/crawler"
	"github.com/JakeFAU/docharvest/internal/relevance"
)

// FetchFunc downloads one candidate. index is the candidate's position after
// ordering and truncation, starting at 1.
type FetchFunc func(ctx context.Context, index int, link crawler.DocumentLink) crawler.DocumentFetchResult

// Coordinator orders, caps and downloads document candidates.
type Coordinator struct {
	scorer *relevance.Scorer
	logger *zap.Logger
}

// New constructs a Coordinator.
func New(scorer *relevance.Scorer, logger *zap.Logger) *Coordinator {
	if scorer == nil {
		scorer = relevance.NewScorer(relevance.DefaultKeywords)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{scorer: scorer, logger: logger.Named("downloader")}
}

// Prioritize deduplicates candidates by normalized URL, keeping the first
// position and the last-seen metadata, then orders document-type links first
// and higher keyword counts in the link text next. At most limit candidates
// are returned; limit <= 0 means no cap.
func (c *Coordinator) Prioritize(candidates []crawler.DocumentLink, limit int) []crawler.DocumentLink {
	index := make(map[string]int, len(candidates))
	unique := make([]crawler.DocumentLink, 0, len(candidates))
	for _, link := range candidates {
		key := crawler.NormalizeURL(link.URL)
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			unique[i] = link
			continue
		}
		index[key] = len(unique)
		unique = append(unique, link)
	}

	type ranked struct {
		link    crawler.DocumentLink
		isDoc   bool
		matches int
	}
	ranking := make([]ranked, len(unique))
	for i, link := range unique {
		score, _ := c.scorer.Score(link.Text, "", "")
		ranking[i] = ranked{link: link, isDoc: isDocumentType(link.URL), matches: score}
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		if ranking[i].isDoc != ranking[j].isDoc {
			return ranking[i].isDoc
		}
		return ranking[i].matches > ranking[j].matches
	})

	if limit > 0 && len(ranking) > limit {
		ranking = ranking[:limit]
	}
	out := make([]crawler.DocumentLink, len(ranking))
	for i, r := range ranking {
		out[i] = r.link
	}
	return out
}

// DownloadAll prioritizes candidates, keeps at most perCallLimit and runs
// fetch for each under a pool of maxConcurrent goroutines. Results come back
// in completion order, one per retained candidate. A failing or panicking
// fetch never stops its siblings; candidates not started before ctx ends
// report a canceled failure.
func (c *Coordinator) DownloadAll(
	ctx context.Context,
	candidates []crawler.DocumentLink,
	maxConcurrent, perCallLimit int,
	fetch FetchFunc,
) []crawler.DocumentFetchResult {
	selected := c.Prioritize(candidates, perCallLimit)
	if len(selected) == 0 {
		return nil
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	c.logger.Debug("downloading documents",
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(selected)),
		zap.Int("concurrency", maxConcurrent),
	)

	results := make(chan crawler.DocumentFetchResult, len(selected))
	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, link := range selected {
		g.Go(func() error {
			results <- c.runOne(ctx, i+1, link, fetch)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return errors
	close(results)

	out := make([]crawler.DocumentFetchResult, 0, len(selected))
	for res := range results {
		out = append(out, res)
	}
	return out
}

func (c *Coordinator) runOne(
	ctx context.Context,
	index int,
	link crawler.DocumentLink,
	fetch FetchFunc,
) (res crawler.DocumentFetchResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("document fetch panicked",
				zap.String("url", link.URL),
				zap.Any("panic", r),
			)
			res = crawler.DocumentFetchResult{
				URL: link.URL,
				Err: &crawler.FetchError{
					Reason: crawler.ReasonPanic,
					URL:    link.URL,
					Err:    fmt.Errorf("panic: %v", r),
				},
			}
		}
	}()
	if err := ctx.Err(); err != nil {
		return crawler.DocumentFetchResult{
			URL: link.URL,
			Err: &crawler.FetchError{Reason: crawler.ReasonCanceled, URL: link.URL, Err: err},
		}
	}
	res = fetch(ctx, index, link)
	if res.URL == "" {
		res.URL = link.URL
	}
	return res
}

func isDocumentType(rawURL string) bool {
	return classify.HasDocumentExtension(rawURL) || strings.Contains(strings.ToLower(rawURL), "pdf")
}
