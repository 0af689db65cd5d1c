package dispatcher

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docharvest/internal/crawler"
	"github.com/JakeFAU/docharvest/internal/relevance"
)

// progress tracks running totals for per-completion log lines.
type progress struct {
	total       int
	concurrency int
	done        int
	succeeded   int
	documents   int
	elapsed     time.Duration
}

func newProgress(total, concurrency int) *progress {
	return &progress{total: total, concurrency: concurrency}
}

func (p *progress) add(rec crawler.ResultRecord, elapsed time.Duration) {
	p.done++
	if rec.Succeeded() {
		p.succeeded++
	}
	p.documents += rec.Outcome.DocumentCount
	p.elapsed = elapsed
}

// eta extrapolates the wall time per item seen so far over the remaining items.
func (p *progress) eta() time.Duration {
	if p.done == 0 || p.done >= p.total {
		return 0
	}
	perItem := p.elapsed / time.Duration(p.done)
	return perItem * time.Duration(p.total-p.done)
}

func (p *progress) fields(rec crawler.ResultRecord) []zap.Field {
	return []zap.Field{
		zap.Int("item", rec.Item.ID),
		zap.String("status", rec.Status),
		zap.Int("done", p.done),
		zap.Int("total", p.total),
		zap.Int("succeeded", p.succeeded),
		zap.Int("documents", p.documents),
		zap.Duration("eta", p.eta().Round(time.Second)),
	}
}

// Summary aggregates a run's results.
type Summary struct {
	Total     int
	Succeeded int
	Warnings  int
	Failed    int
	Documents int
	Relevant  int
	// AverageTextLength is taken over records with any text.
	AverageTextLength float64
	Elapsed           time.Duration
}

// Summarize tallies records. Warnings count as failures when
// warningCountsAsFailure is set, otherwise as successes.
func Summarize(records []crawler.ResultRecord, warningCountsAsFailure bool, elapsed time.Duration) Summary {
	s := Summary{Total: len(records), Elapsed: elapsed}
	var textTotal, withText int
	for _, rec := range records {
		switch {
		case rec.Succeeded():
			s.Succeeded++
		case rec.Status == crawler.StatusWarning:
			s.Warnings++
			if warningCountsAsFailure {
				s.Failed++
			} else {
				s.Succeeded++
			}
		default:
			s.Failed++
		}
		s.Documents += rec.Outcome.DocumentCount
		if relevance.IsRelevant(rec.Relevance) {
			s.Relevant++
		}
		if rec.TextLength > 0 {
			textTotal += rec.TextLength
			withText++
		}
	}
	if withText > 0 {
		s.AverageTextLength = float64(textTotal) / float64(withText)
	}
	return s
}

// Log writes the summary as one structured line.
func (s Summary) Log(logger *zap.Logger) {
	logger.Info("run summary",
		zap.Int("total", s.Total),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("warnings", s.Warnings),
		zap.Int("failed", s.Failed),
		zap.Int("documents", s.Documents),
		zap.Int("relevant", s.Relevant),
		zap.Float64("avg_text_length", s.AverageTextLength),
		zap.Duration("elapsed", s.Elapsed.Round(time.Second)),
	)
}

// String renders the summary for terminal output.
func (s Summary) String() string {
	var b strings.Builder
	pct := func(n int) float64 {
		if s.Total == 0 {
			return 0
		}
		return float64(n) / float64(s.Total) * 100
	}
	b.WriteString("Run summary\n")
	fmt.Fprintf(&b, "  total items:        %d\n", s.Total)
	fmt.Fprintf(&b, "  succeeded:          %d (%.1f%%)\n", s.Succeeded, pct(s.Succeeded))
	fmt.Fprintf(&b, "  failed:             %d\n", s.Failed)
	fmt.Fprintf(&b, "  warnings:           %d\n", s.Warnings)
	fmt.Fprintf(&b, "  documents:          %d\n", s.Documents)
	fmt.Fprintf(&b, "  relevant:           %d (%.1f%%)\n", s.Relevant, pct(s.Relevant))
	fmt.Fprintf(&b, "  average text chars: %.0f\n", s.AverageTextLength)
	fmt.Fprintf(&b, "  elapsed:            %s\n", s.Elapsed.Round(time.Second))
	return b.String()
}
