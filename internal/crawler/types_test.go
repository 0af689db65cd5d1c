package crawler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRowPadsMissingValues(t *testing.T) {
	t.Parallel()

	row := NewRow([]string{"Country", "URL", "Note"}, []string{"France", "https://a.example"})
	require.Equal(t, []string{"Country", "URL", "Note"}, row.Columns)
	assert.Equal(t, "France", row.Get("Country"))
	assert.Equal(t, "", row.Get("Note"))
	assert.Equal(t, "", row.Get("Missing"))
}

func TestRowSetAppendsNewColumnsOnce(t *testing.T) {
	t.Parallel()

	row := NewRow([]string{"URL"}, []string{"https://a.example"})
	row.Set("status", "failed")
	row.Set("status", "success-direct-document")
	row.Set("URL", "https://b.example")

	assert.Equal(t, []string{"URL", "status"}, row.Columns)
	assert.Equal(t, "success-direct-document", row.Get("status"))
	assert.Equal(t, "https://b.example", row.Get("URL"))
}

func TestRowCloneIsIndependent(t *testing.T) {
	t.Parallel()

	row := NewRow([]string{"URL"}, []string{"https://a.example"})
	clone := row.Clone()
	clone.Set("URL", "changed")
	clone.Set("extra", "x")

	assert.Equal(t, "https://a.example", row.Get("URL"))
	assert.Equal(t, []string{"URL"}, row.Columns)
}

func TestResultRecordRow(t *testing.T) {
	t.Parallel()

	item := WorkItem{ID: 7, URL: "https://a.example/doc.pdf", Row: NewRow([]string{"URL"}, []string{"https://a.example/doc.pdf"})}
	rec := ResultRecord{
		Item: item,
		Outcome: ProcessingOutcome{
			DocumentCount:      1,
			Method:             MethodDirectDocument,
			PagesVisited:       0,
			DocumentsFound:     1,
			RelevantLinksFound: 2,
		},
		Status:      "success-direct-document-1-docs",
		Relevance:   "possibly-relevant (ai)",
		Filename:    "0007.txt",
		DisplayText: "hello",
		TextLength:  5,
		Elapsed:     1500 * time.Millisecond,
	}

	row := rec.Row()
	require.Equal(t, append([]string{"URL"}, ResultColumns...), row.Columns)
	assert.Equal(t, "hello", row.Get(ColumnExtractedText))
	assert.Equal(t, "1.50", row.Get(ColumnElapsed))
	assert.Equal(t, "direct-document", row.Get(ColumnMethod))
	assert.Equal(t, "2", row.Get(ColumnRelevantLinks))
	assert.True(t, rec.Succeeded())
	assert.Equal(t, "0007", item.Hint())
	// the input row must not be mutated by the projection
	assert.Equal(t, []string{"URL"}, item.Row.Columns)
}

func TestUniqueDocuments(t *testing.T) {
	t.Parallel()

	nav := NavigationResult{Documents: []DocumentLink{
		{URL: "https://a.example/x.pdf", Text: "first"},
		{URL: "https://a.example/x.pdf/", Text: "second"},
		{URL: "https://a.example/y.pdf"},
	}}
	docs := nav.UniqueDocuments()
	require.Len(t, docs, 2)
	assert.Equal(t, "first", docs[0].Text)
}

func TestFetchErrorRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		reason    FailureReason
		retryable bool
	}{
		{ReasonNetwork, true},
		{ReasonServer, true},
		{ReasonThrottled, true},
		{ReasonClient, false},
		{ReasonTooLarge, false},
		{ReasonEmpty, false},
		{ReasonBadMagic, false},
		{ReasonIO, false},
	}
	for _, tc := range cases {
		err := &FetchError{Reason: tc.reason, URL: "https://a.example"}
		assert.Equal(t, tc.retryable, err.Retryable(), string(tc.reason))
	}

	wrapped := &FetchError{Reason: ReasonClient, StatusCode: 404, URL: "u", Err: errors.New("boom")}
	assert.Contains(t, wrapped.Error(), "status 404")
	assert.Equal(t, ReasonClient, ReasonOf(wrapped))
	assert.Equal(t, FailureReason(""), ReasonOf(errors.New("plain")))
}
