package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/docharvest/internal/crawler"
)

func sampleRecords() []crawler.ResultRecord {
	return []crawler.ResultRecord{
		{
			Status:     "success-navigation-with-documents-2-docs",
			Relevance:  "highly-relevant (3 keywords: a, b, c...)",
			TextLength: 3000,
			Outcome:    crawler.ProcessingOutcome{DocumentCount: 2},
		},
		{
			Status:     "success-direct-document-1-docs",
			Relevance:  "not-relevant",
			TextLength: 1000,
			Outcome:    crawler.ProcessingOutcome{DocumentCount: 1},
		},
		{Status: crawler.StatusWarning, Relevance: "low-content", TextLength: 80},
		{Status: crawler.StatusFailed, Relevance: "processing-failed"},
		{Status: crawler.StatusFailedSave, Relevance: "possibly-relevant (a)", TextLength: 500},
	}
}

func TestSummarizeCountsWarningsAsFailures(t *testing.T) {
	t.Parallel()

	s := Summarize(sampleRecords(), true, time.Minute)

	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 3, s.Failed)
	assert.Equal(t, 1, s.Warnings)
	assert.Equal(t, 3, s.Documents)
	assert.Equal(t, 2, s.Relevant)
	assert.InDelta(t, (3000.0+1000+80+500)/4, s.AverageTextLength, 1e-9)
	assert.Equal(t, time.Minute, s.Elapsed)
}

func TestSummarizeCountsWarningsAsSuccesses(t *testing.T) {
	t.Parallel()

	s := Summarize(sampleRecords(), false, 0)

	assert.Equal(t, 3, s.Succeeded)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 1, s.Warnings)
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	s := Summarize(nil, true, 0)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AverageTextLength)
	assert.Contains(t, s.String(), "total items:        0")
}

func TestSummaryString(t *testing.T) {
	t.Parallel()

	out := Summarize(sampleRecords(), true, 90*time.Second).String()
	assert.Contains(t, out, "succeeded:          2 (40.0%)")
	assert.Contains(t, out, "relevant:           2 (40.0%)")
	assert.Contains(t, out, "elapsed:            1m30s")
}

func TestProgressETA(t *testing.T) {
	t.Parallel()

	p := newProgress(4, 2)
	assert.Zero(t, p.eta())
	p.add(crawler.ResultRecord{Status: "success-x"}, 10*time.Second)
	assert.Equal(t, 30*time.Second, p.eta())
	p.add(crawler.ResultRecord{Status: crawler.StatusFailed}, 20*time.Second)
	assert.Equal(t, 20*time.Second, p.eta())
	assert.Equal(t, 1, p.succeeded)
	assert.Len(t, p.fields(crawler.ResultRecord{}), 7)
}
