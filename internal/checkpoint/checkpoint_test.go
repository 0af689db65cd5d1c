package checkpoint

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docharvest/internal/crawler"
)

const urlCol = "URL"

func item(id int, url string) crawler.WorkItem {
	return crawler.WorkItem{
		ID:  id,
		URL: url,
		Key: crawler.NormalizeURL(url),
		Row: crawler.NewRow([]string{"Country", urlCol}, []string{"FR", url}),
	}
}

func priorRow(url, status string) crawler.Row {
	return crawler.NewRow([]string{"Country", urlCol, crawler.ColumnStatus}, []string{"FR", url, status})
}

func workURLs(p Plan) []string {
	out := make([]string, 0, len(p.Work))
	for _, w := range p.Work {
		out = append(out, w.Key)
	}
	return out
}

func TestClassify(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	cases := []struct {
		status string
		want   State
	}{
		{"success-direct-document", StateDone},
		{"success-navigation-with-documents-3-docs", StateDone},
		{"Success", StateDone},
		{"warning", StateDone},
		{"failed", StateFailed},
		{"failed-save-error", StateFailed},
		{"something-else", StateFailed},
		{"", StatePending},
		{"   ", StatePending},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, p.Classify(tc.status), tc.status)
	}

	p.WarningIsDone = false
	assert.Equal(t, StateFailed, p.Classify("warning"))
}

func TestBuildPlanIsDisjoint(t *testing.T) {
	t.Parallel()

	items := []crawler.WorkItem{
		item(1, "https://a.test/"),
		item(2, "https://b.test"),
		item(3, "https://c.test"),
		item(4, "https://d.test"),
		item(5, "https://b.test/"),
	}
	prior := []crawler.Row{
		priorRow("https://a.test", "success-direct-document"),
		priorRow("https://b.test", "failed"),
		priorRow("https://c.test", "warning"),
		priorRow("https://e.test", "success-navigation-pages-only"),
	}

	plan := DefaultPolicy().Build(items, prior, urlCol, urlCol)

	assert.Equal(t, []string{"https://b.test", "https://d.test"}, workURLs(plan))
	assert.Equal(t, 2, plan.Skipped)
	assert.Equal(t, 1, plan.Retried)
	require.Len(t, plan.Carried, 3)

	work := map[string]bool{}
	for _, k := range workURLs(plan) {
		work[k] = true
	}
	for _, row := range plan.Carried {
		key := crawler.NormalizeURL(row.Get(urlCol))
		assert.False(t, work[key], "url %s both carried and queued", key)
	}
}

func TestBuildFailureWinsOverDone(t *testing.T) {
	t.Parallel()

	prior := []crawler.Row{
		priorRow("https://a.test", "success-direct-document"),
		priorRow("https://a.test/", "failed"),
	}
	plan := DefaultPolicy().Build([]crawler.WorkItem{item(1, "https://a.test")}, prior, urlCol, urlCol)

	assert.Equal(t, StateFailed, plan.State["https://a.test"])
	assert.Empty(t, plan.Carried)
	assert.Equal(t, []string{"https://a.test"}, workURLs(plan))
}

func TestBuildWarningPolicy(t *testing.T) {
	t.Parallel()

	prior := []crawler.Row{priorRow("https://a.test", "warning")}
	items := []crawler.WorkItem{item(1, "https://a.test")}

	done := DefaultPolicy().Build(items, prior, urlCol, urlCol)
	assert.Empty(t, done.Work)

	p := DefaultPolicy()
	p.WarningIsDone = false
	retry := p.Build(items, prior, urlCol, urlCol)
	assert.Len(t, retry.Work, 1)
	assert.Empty(t, retry.Carried)
}

func TestBuildCopiesURLColumnForCarriedRows(t *testing.T) {
	t.Parallel()

	prior := []crawler.Row{
		crawler.NewRow([]string{"link", crawler.ColumnStatus}, []string{"https://a.test", "success-direct-document"}),
	}
	plan := DefaultPolicy().Build(nil, prior, "link", urlCol)

	require.Len(t, plan.Carried, 1)
	assert.Equal(t, "https://a.test", plan.Carried[0].Get(urlCol))
	assert.Empty(t, prior[0].Get(urlCol))
}

func TestBuildWithoutPriorQueuesEverything(t *testing.T) {
	t.Parallel()

	plan := DefaultPolicy().Build([]crawler.WorkItem{item(1, "https://a.test"), item(2, "https://b.test")}, nil, urlCol, urlCol)
	assert.Len(t, plan.Work, 2)
	assert.Zero(t, plan.Skipped)
	assert.Empty(t, plan.Carried)
}

func TestMergeFreshWins(t *testing.T) {
	t.Parallel()

	carried := []crawler.Row{
		priorRow("https://b.test", "success-direct-document"),
		priorRow("https://a.test/", "failed"),
	}
	fresh := []crawler.Row{priorRow("https://a.test", "success-navigation-pages-only")}

	merged := Merge(carried, fresh, urlCol)

	require.Len(t, merged, 2)
	assert.Equal(t, "https://a.test", merged[0].Get(urlCol))
	assert.Equal(t, "success-navigation-pages-only", merged[0].Get(crawler.ColumnStatus))
	assert.Equal(t, "https://b.test", merged[1].Get(urlCol))
}

func TestFailThenSucceedAcrossRuns(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	items := []crawler.WorkItem{item(1, "https://a.test")}

	first := record(items[0], crawler.StatusFailed)
	run1 := Merge(nil, []crawler.Row{first.Row()}, urlCol)

	plan2 := p.Build(items, run1, urlCol, urlCol)
	require.Len(t, plan2.Work, 1)

	second := record(plan2.Work[0], "success-direct-document")
	run2 := Merge(plan2.Carried, []crawler.Row{second.Row()}, urlCol)

	require.Len(t, run2, 1)
	assert.Equal(t, "success-direct-document", run2[0].Get(crawler.ColumnStatus))
}

func TestSecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	var items []crawler.WorkItem
	var fresh []crawler.Row
	for i := 1; i <= 5; i++ {
		it := item(i, fmt.Sprintf("https://site%d.test", i))
		items = append(items, it)
		fresh = append(fresh, record(it, "success-navigation-pages-only").Row())
	}

	first := p.Build(items, nil, urlCol, urlCol)
	require.Len(t, first.Work, 5)
	out := Merge(first.Carried, fresh, urlCol)

	second := p.Build(items, out, urlCol, urlCol)
	assert.Empty(t, second.Work)
	assert.Len(t, second.Carried, 5)
	assert.Equal(t, 5, second.Skipped)

	// carrying over again changes nothing
	assert.Equal(t, out, Merge(second.Carried, nil, urlCol))
}

func TestClassificationRoundTripsThroughRecords(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	for _, status := range []string{"success-direct-document", crawler.StatusWarning, crawler.StatusFailed, crawler.StatusFailedSave} {
		rec := record(item(1, "https://a.test"), status)
		assert.Equal(t, p.Classify(rec.Status), p.ClassifyRow(rec.Row()), status)
	}
}

func record(it crawler.WorkItem, status string) crawler.ResultRecord {
	return crawler.ResultRecord{
		Item:    it,
		Status:  status,
		Outcome: crawler.ProcessingOutcome{Method: crawler.MethodDirectDocument},
		Elapsed: time.Second,
	}
}
