// Package checkpoint decides which seed URLs still need processing given the
// rows of a previous run, and merges carried-over rows with fresh results.
package checkpoint

import (
	"sort"
	"strings"

	"github.com/JakeFAU/docharvest/internal/crawler"
)

// State is the checkpoint classification of a URL.
type State int

// Checkpoint states.
const (
	// StatePending means no prior row decides the URL.
	StatePending State = iota
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Policy maps status values to checkpoint states.
type Policy struct {
	StatusColumn string
	// DoneTokens are status prefixes that mark a row as done.
	DoneTokens   []string
	WarningToken string
	// WarningIsDone decides whether low-content rows are skipped on resume.
	WarningIsDone bool
}

// DefaultPolicy treats success and warning rows as done.
func DefaultPolicy() Policy {
	return Policy{
		StatusColumn:  crawler.ColumnStatus,
		DoneTokens:    []string{crawler.StatusSuccessPrefix, crawler.StatusWarning},
		WarningToken:  crawler.StatusWarning,
		WarningIsDone: true,
	}
}

// Classify maps one status value to a state. Blank status is pending; any
// non-blank status that is not done counts as failed.
func (p Policy) Classify(status string) State {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return StatePending
	}
	if p.WarningToken != "" && strings.HasPrefix(status, strings.ToLower(p.WarningToken)) {
		if p.WarningIsDone {
			return StateDone
		}
		return StateFailed
	}
	for _, tok := range p.DoneTokens {
		tok = strings.ToLower(tok)
		if tok == "" || tok == strings.ToLower(p.WarningToken) {
			continue
		}
		if strings.HasPrefix(status, tok) {
			return StateDone
		}
	}
	return StateFailed
}

// ClassifyRow classifies a row by its status column.
func (p Policy) ClassifyRow(row crawler.Row) State {
	column := p.StatusColumn
	if column == "" {
		column = crawler.ColumnStatus
	}
	return p.Classify(row.Get(column))
}

// Plan is the outcome of comparing the input with a prior run.
type Plan struct {
	// Work holds items to process, deduplicated by normalized URL.
	Work []crawler.WorkItem
	// Carried holds prior rows for done URLs, one per URL.
	Carried []crawler.Row
	// State records the prior classification of every URL seen in the prior rows.
	State map[string]State
	// Skipped counts input items whose URL was already done.
	Skipped int
	// Retried counts work items whose URL failed previously.
	Retried int
}

// Build compares input items against prior rows. For each URL, any failing
// prior row makes it failed; otherwise any done row makes it done. Done URLs
// are carried over and never appear in Work. priorURLColumn names the URL
// column of the prior rows; carried rows have it copied to urlColumn when the
// names differ.
func (p Policy) Build(items []crawler.WorkItem, prior []crawler.Row, priorURLColumn, urlColumn string) Plan {
	plan := Plan{State: make(map[string]State)}

	carried := make(map[string]crawler.Row)
	var carriedOrder []string
	for _, row := range prior {
		key := crawler.NormalizeURL(row.Get(priorURLColumn))
		if key == "" {
			continue
		}
		state := p.ClassifyRow(row)
		switch {
		case state == StateFailed:
			plan.State[key] = StateFailed
		case state == StateDone && plan.State[key] != StateFailed:
			plan.State[key] = StateDone
		case state == StatePending:
			if _, ok := plan.State[key]; !ok {
				plan.State[key] = StatePending
			}
		}
		if state == StateDone {
			if _, ok := carried[key]; !ok {
				carriedOrder = append(carriedOrder, key)
			}
			carried[key] = row
		}
	}

	for _, key := range carriedOrder {
		if plan.State[key] != StateDone {
			continue
		}
		row := carried[key]
		if priorURLColumn != urlColumn && urlColumn != "" {
			row = row.Clone()
			row.Set(urlColumn, row.Get(priorURLColumn))
		}
		plan.Carried = append(plan.Carried, row)
	}

	queued := make(map[string]struct{}, len(items))
	for _, item := range items {
		key := item.Key
		if key == "" {
			key = crawler.NormalizeURL(item.URL)
		}
		switch plan.State[key] {
		case StateDone:
			plan.Skipped++
			continue
		case StateFailed:
			if _, ok := queued[key]; !ok {
				plan.Retried++
			}
		}
		if _, ok := queued[key]; ok {
			continue
		}
		queued[key] = struct{}{}
		item.Key = key
		plan.Work = append(plan.Work, item)
	}
	return plan
}

// Merge unions carried and fresh rows keyed by the normalized value of
// urlColumn. A fresh row always replaces a carried row with the same URL.
// The result is sorted by normalized URL.
func Merge(carried, fresh []crawler.Row, urlColumn string) []crawler.Row {
	merged := make(map[string]crawler.Row, len(carried)+len(fresh))
	var unkeyed []crawler.Row
	add := func(row crawler.Row) {
		key := crawler.NormalizeURL(row.Get(urlColumn))
		if key == "" {
			unkeyed = append(unkeyed, row)
			return
		}
		merged[key] = row
	}
	for _, row := range carried {
		add(row)
	}
	for _, row := range fresh {
		add(row)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]crawler.Row, 0, len(keys)+len(unkeyed))
	for _, k := range keys {
		out = append(out, merged[k])
	}
	return append(out, unkeyed...)
}
