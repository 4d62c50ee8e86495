// Package dedup collapses repeated kim diagnostics into a running count.
//
// During startup `kim images` fails the same way on every poll. The messages
// differ only in their timestamps, so they are compared after stripping those
// and a repeat is reported as a short summary instead of the full text.
package dedup

import (
	"fmt"
	"regexp"
)

var (
	// time="2021-06-01T10:00:00Z" fields written by logrus
	timeFieldPattern = regexp.MustCompile(`\btime=".*?"`)
	// bare RFC 3339 / ISO 8601 timestamps
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	errorLinePattern = regexp.MustCompile(`Error: .*`)
)

// Normalize strips volatile timestamp tokens from raw.
func Normalize(raw string) string {
	s := timeFieldPattern.ReplaceAllString(raw, "")
	return timestampPattern.ReplaceAllString(s, "")
}

// Outcome describes how a recorded message relates to the previous one.
type Outcome struct {
	IsRepeat bool
	Count    int
	// Message is the full text for a new message, or a one-line summary
	// ending in "#<count>" for a repeat.
	Message string
}

// Deduplicator remembers the last normalized message and how many times in
// a row it has been seen. It is not safe for concurrent use.
type Deduplicator struct {
	last  string
	count int
}

// New returns an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{}
}

// Record registers raw and reports whether it repeats the previous message.
func (d *Deduplicator) Record(raw string) Outcome {
	normalized := Normalize(raw)
	if d.count > 0 && normalized == d.last {
		d.count++
		return Outcome{
			IsRepeat: true,
			Count:    d.count,
			Message:  summarize(d.last, d.count),
		}
	}

	d.last = normalized
	d.count = 1
	return Outcome{Count: 1, Message: raw}
}

// Count returns how many times in a row the last message was recorded.
func (d *Deduplicator) Count() int {
	return d.count
}

// Last returns the last normalized message.
func (d *Deduplicator) Last() string {
	return d.last
}

// Reset forgets the last message.
func (d *Deduplicator) Reset() {
	d.last = ""
	d.count = 0
}

func summarize(normalized string, count int) string {
	line := errorLinePattern.FindString(normalized)
	if line == "" {
		line = "same error message"
	}
	return fmt.Sprintf("%s #%d", line, count)
}
