// Package temporal turns natural-language time phrases into absolute instants.
package temporal

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// DefaultHour is the time of day assigned to phrases that name only a date.
const DefaultHour = 9

// Extractor finds the first time expression in text relative to ref.
type Extractor interface {
	Extract(text string, ref time.Time) (time.Time, bool, error)
}

// Parser applies the scheduling policy on top of an Extractor.
type Parser struct {
	extractor   Extractor
	defaultHour int
	location    *time.Location
}

// Option customises a Parser.
type Option func(*Parser)

// WithDefaultHour overrides the hour used for date-only phrases.
func WithDefaultHour(hour int) Option {
	return func(p *Parser) {
		if hour >= 0 && hour < 24 {
			p.defaultHour = hour
		}
	}
}

// WithLocation sets the zone phrases are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.location = loc
		}
	}
}

// WithExtractor replaces the phrase extractor.
func WithExtractor(e Extractor) Option {
	return func(p *Parser) {
		if e != nil {
			p.extractor = e
		}
	}
}

// NewParser returns a parser backed by the english and common rule sets.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		extractor:   NewWhenExtractor(),
		defaultHour: DefaultHour,
		location:    time.Local,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultHourOfDay reports the hour assigned to date-only phrases.
func (p *Parser) DefaultHourOfDay() int {
	return p.defaultHour
}

// Location reports the zone phrases are interpreted in.
func (p *Parser) Location() *time.Location {
	return p.location
}

// Parse resolves text against ref. The boolean is false when the text holds no
// recognisable time expression; callers must ask for clarification rather
// than fall back to ref.
func (p *Parser) Parse(text string, ref time.Time) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}

	at, ok, err := p.extractor.Extract(text, ref.In(p.location))
	if err != nil || !ok {
		return time.Time{}, false
	}

	if at.Hour() == 0 && at.Minute() == 0 && at.Second() == 0 {
		at = time.Date(at.Year(), at.Month(), at.Day(), p.defaultHour, 0, 0, 0, at.Location())
	}
	return at, true
}

// Parse is a convenience wrapper using the default extractor in ref's zone.
func Parse(text string, ref time.Time, defaultHour int) (time.Time, bool) {
	return NewParser(WithDefaultHour(defaultHour), WithLocation(ref.Location())).Parse(text, ref)
}

// WhenExtractor adapts github.com/olebedev/when to Extractor.
type WhenExtractor struct {
	parser *when.Parser
}

// NewWhenExtractor builds an extractor with the english and common rules
// plus NextPeriod.
func NewWhenExtractor() *WhenExtractor {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	w.Add(NextPeriod(rules.Override))
	return &WhenExtractor{parser: w}
}

// Extract parses text twice: anchored at ref, and anchored at the start of
// ref's day. Rules that pin a time of day agree on it in both runs, date-only
// rules land on midnight in the second run, and sub-day offsets such as "in 2
// hours" move rigidly with the anchor. Offset phrases ("in 2 days", "next
// week") keep the clock time of ref.
func (e *WhenExtractor) Extract(text string, ref time.Time) (time.Time, bool, error) {
	text = strings.ToLower(text)

	anchored, err := e.parser.Parse(text, ref)
	if err != nil {
		return time.Time{}, false, goerr.Wrap(err, "failed to parse time phrase", goerr.V("text", text))
	}
	if anchored == nil {
		return time.Time{}, false, nil
	}
	if strings.TrimSpace(anchored.Text) == "now" {
		return ref, true, nil
	}
	if isOffset(text) && !containsAny(text, weekdays) {
		return anchored.Time, true, nil
	}

	midnight := startOfDay(ref)
	dayBased, err := e.parser.Parse(text, midnight)
	if err != nil || dayBased == nil {
		return forward(text, anchored.Time, ref), true, nil
	}

	rigid := anchored.Time.Sub(dayBased.Time) == ref.Sub(midnight)
	if rigid && !isMidnight(dayBased.Time) {
		return anchored.Time, true, nil
	}
	return forward(text, dayBased.Time, ref), true, nil
}

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

var pastMarkers = []string{"last", "past", "ago", "yesterday", "previous"}

// forward moves a weekday phrase that resolved before ref's day to its next
// occurrence.
func forward(text string, at, ref time.Time) time.Time {
	if !containsAny(text, weekdays) || containsAny(text, pastMarkers) {
		return at
	}
	today := startOfDay(ref)
	for at.Before(today) {
		at = at.AddDate(0, 0, 7)
	}
	return at
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0
}
