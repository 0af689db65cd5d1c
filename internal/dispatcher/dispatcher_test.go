package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docharvest/internal/crawler"
)

type funcProcessor func(ctx context.Context, item crawler.WorkItem) crawler.ResultRecord

func (f funcProcessor) Process(ctx context.Context, item crawler.WorkItem) crawler.ResultRecord {
	return f(ctx, item)
}

func items(n int) []crawler.WorkItem {
	out := make([]crawler.WorkItem, n)
	for i := range out {
		u := fmt.Sprintf("https://site.test/%d", i+1)
		out[i] = crawler.WorkItem{ID: i + 1, URL: u, Key: u}
	}
	return out
}

func success(item crawler.WorkItem) crawler.ResultRecord {
	return crawler.ResultRecord{Item: item, Status: "success-navigation-pages-only", TextLength: 10}
}

func TestRunProcessesEveryItemWithinConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	proc := funcProcessor(func(_ context.Context, item crawler.WorkItem) crawler.ResultRecord {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return success(item)
	})

	var callbacks []int
	d := New(Config{Concurrency: 2}, proc, nil, nil)
	report := d.Run(context.Background(), items(6), func(rec crawler.ResultRecord) {
		callbacks = append(callbacks, rec.Item.ID)
	})

	require.Len(t, report.Records, 6)
	assert.Len(t, callbacks, 6)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6}, callbacks)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.False(t, report.Interrupted)
}

func TestRunReturnsCompletionOrder(t *testing.T) {
	t.Parallel()

	proc := funcProcessor(func(_ context.Context, item crawler.WorkItem) crawler.ResultRecord {
		if item.ID == 1 {
			time.Sleep(60 * time.Millisecond)
		}
		return success(item)
	})

	report := New(Config{Concurrency: 2}, proc, nil, nil).Run(context.Background(), items(2), nil)

	require.Len(t, report.Records, 2)
	assert.Equal(t, 2, report.Records[0].Item.ID)
	assert.Equal(t, 1, report.Records[1].Item.ID)
}

func TestRunInterruptLetsInFlightItemsFinish(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var workErr atomic.Value
	proc := funcProcessor(func(ctx context.Context, item crawler.WorkItem) crawler.ResultRecord {
		if item.ID == 1 {
			close(started)
			<-release
			workErr.Store(fmt.Sprint(ctx.Err()))
		}
		return success(item)
	})

	ctx, cancel := context.WithCancel(context.Background())
	d := New(Config{Concurrency: 1, ShutdownGrace: time.Minute}, proc, nil, nil)

	done := make(chan Report, 1)
	go func() { done <- d.Run(ctx, items(5), nil) }()

	<-started
	cancel()
	close(release)

	select {
	case report := <-done:
		assert.True(t, report.Interrupted)
		require.Len(t, report.Records, 1, "items not started stay pending")
		assert.Equal(t, 1, report.Records[0].Item.ID)
		assert.Equal(t, "<nil>", workErr.Load(), "in-flight work keeps its context during the grace period")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after interrupt")
	}
}

func TestRunCancelsInFlightItemsAfterGrace(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	proc := funcProcessor(func(ctx context.Context, item crawler.WorkItem) crawler.ResultRecord {
		close(started)
		<-ctx.Done()
		return crawler.ResultRecord{Item: item, Status: crawler.StatusFailed}
	})

	ctx, cancel := context.WithCancel(context.Background())
	d := New(Config{Concurrency: 1, ShutdownGrace: 20 * time.Millisecond}, proc, nil, nil)

	done := make(chan Report, 1)
	go func() { done <- d.Run(ctx, items(3), nil) }()
	<-started
	cancel()

	select {
	case report := <-done:
		require.Len(t, report.Records, 1)
		assert.Equal(t, crawler.StatusFailed, report.Records[0].Status)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight item was not canceled after the grace period")
	}
}

func TestRunWithCanceledContextStartsNothing(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	proc := funcProcessor(func(_ context.Context, item crawler.WorkItem) crawler.ResultRecord {
		calls.Add(1)
		return success(item)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := New(Config{Concurrency: 3}, proc, nil, nil).Run(ctx, items(4), nil)

	assert.Empty(t, report.Records)
	assert.True(t, report.Interrupted)
	assert.Zero(t, calls.Load())
}

func TestRunIsolatesPanics(t *testing.T) {
	t.Parallel()

	proc := funcProcessor(func(_ context.Context, item crawler.WorkItem) crawler.ResultRecord {
		if item.ID == 2 {
			panic("renderer exploded")
		}
		return success(item)
	})

	var mu sync.Mutex
	byID := map[int]crawler.ResultRecord{}
	report := New(Config{Concurrency: 2}, proc, nil, nil).Run(context.Background(), items(3), func(rec crawler.ResultRecord) {
		mu.Lock()
		defer mu.Unlock()
		byID[rec.Item.ID] = rec
	})

	require.Len(t, report.Records, 3)
	assert.Equal(t, crawler.StatusFailed, byID[2].Status)
	assert.Equal(t, crawler.MethodFailed, byID[2].Outcome.Method)
	assert.Contains(t, byID[2].DisplayText, "renderer exploded")
	assert.Equal(t, crawler.RelevanceFailed, byID[2].Relevance)
	assert.Equal(t, "0002.txt", byID[2].Filename)
	assert.True(t, byID[1].Succeeded())
	assert.True(t, byID[3].Succeeded())
}

type shapingProcessor struct{ funcProcessor }

func (shapingProcessor) Failed(item crawler.WorkItem, err error) crawler.ResultRecord {
	return crawler.ResultRecord{
		Item:        item,
		Status:      crawler.StatusFailed,
		Relevance:   crawler.RelevanceFailed,
		Filename:    "France-FR-1.txt",
		DisplayText: "[ERROR] " + err.Error(),
	}
}

func TestRunPanicUsesProcessorFailureRecord(t *testing.T) {
	t.Parallel()

	proc := shapingProcessor{funcProcessor(func(context.Context, crawler.WorkItem) crawler.ResultRecord {
		panic("renderer exploded")
	})}

	report := New(Config{Concurrency: 1}, proc, nil, nil).Run(context.Background(), items(1), nil)

	require.Len(t, report.Records, 1)
	rec := report.Records[0]
	assert.Equal(t, "France-FR-1.txt", rec.Filename)
	assert.Equal(t, crawler.RelevanceFailed, rec.Relevance)
	assert.Contains(t, rec.DisplayText, "processor panic: renderer exploded")
}

func TestRunPausesAfterEachItem(t *testing.T) {
	t.Parallel()

	proc := funcProcessor(func(_ context.Context, item crawler.WorkItem) crawler.ResultRecord {
		return success(item)
	})
	d := New(Config{Concurrency: 1, DelayMin: 20 * time.Millisecond, DelayMax: 20 * time.Millisecond}, proc, nil, nil)

	start := time.Now()
	report := d.Run(context.Background(), items(3), nil)

	require.Len(t, report.Records, 3)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}
