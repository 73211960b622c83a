package temporal

import (
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when/rules"
	"github.com/olebedev/when/rules/en"
)

// NextPeriod matches "next week", "next month" and "next year" as an offset
// from the reference instant.
func NextPeriod(s rules.Strategy) rules.Rule {
	overwrite := s == rules.Override

	return &rules.F{
		RegExp: regexp.MustCompile(`(?i)(?:\W|^)next\s+(week|month|year)(?:\W|$)`),
		Applier: func(m *rules.Match, c *rules.Context, _ *rules.Options, ref time.Time) (bool, error) {
			if c.Duration != 0 && !overwrite {
				return false, nil
			}
			var target time.Time
			switch strings.ToLower(strings.TrimSpace(m.Captures[0])) {
			case "week":
				target = ref.AddDate(0, 0, 7)
			case "month":
				target = ref.AddDate(0, 1, 0)
			default:
				target = ref.AddDate(1, 0, 0)
			}
			c.Duration = target.Sub(ref)
			return true, nil
		},
	}
}

// offsetPattern recognises phrases that shift the reference instant by a
// span, keeping its clock time.
var offsetPattern = regexp.MustCompile(
	`(?:\W|^)(?:(?:within|in)\s*(?:` + en.INTEGER_WORDS_PATTERN + `|[0-9]+|an?(?:\s*few)?|half(?:\s*an?)?)\s*` +
		`(?:seconds?|min(?:ute)?s?|hours?|days?|weeks?|months?|years?)|next\s+(?:week|month|year))(?:\W|$)`)

func isOffset(text string) bool {
	return offsetPattern.MatchString(text)
}
