package crawler

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	invalidFilenameChars = regexp.MustCompile(`[\\/:*?"<>|.,;=+\[\]\n\r\t]`)
	repeatedUnderscores  = regexp.MustCompile(`_+`)
	whitespaceRun        = regexp.MustCompile(`\s+`)
)

// SafeFilename replaces characters that are unsafe in file names with '_',
// collapses runs, trims leading/trailing underscores and caps the result at
// maxRunes runes. Non-ASCII letters are kept.
func SafeFilename(raw string, maxRunes int) string {
	name := invalidFilenameChars.ReplaceAllString(strings.TrimSpace(raw), "_")
	name = whitespaceRun.ReplaceAllString(name, "_")
	name = repeatedUnderscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if maxRunes > 0 && utf8.RuneCountInString(name) > maxRunes {
		name = strings.TrimRight(string([]rune(name)[:maxRunes]), "_")
	}
	return name
}

// TruncationMarker is appended to text cut by CleanText.
const TruncationMarker = "...[content truncated]"

// CleanText prepares extracted text for a single table cell: control
// characters are dropped, whitespace is collapsed, and the result is capped at
// maxRunes runes (0 disables the cap).
func CleanText(text string, maxRunes int) string {
	if text == "" {
		return ""
	}
	text = strings.ToValidUTF8(text, "")
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		text = string([]rune(text)[:maxRunes]) + TruncationMarker
	}
	return text
}

// Jitter returns a uniformly random duration in [lo, hi]. A non-positive
// range yields lo (or zero).
func Jitter(lo, hi time.Duration) time.Duration {
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
