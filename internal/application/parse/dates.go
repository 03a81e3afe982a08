package parse

import (
	"regexp"
	"time"
)

// phrase is the shape of a matched date expression, which decides how a
// result that is already in the past moves forward.
type phrase int

const (
	phraseRelative  phrase = iota // tomorrow, next friday, in 2 hours
	phraseImmediate               // now, today
	phraseClock                   // a bare time of day
	phraseDate                    // a calendar date without a year
	phraseDatedYear               // a calendar date with an explicit year
)

var (
	isoDateTimeRe = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:\d{2})`)
	isoDateRe     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})(?:[ T](\d{1,2}:\d{2}))?\b`)

	yearRe      = regexp.MustCompile(`\b\d{4}\b`)
	monthRe     = regexp.MustCompile(`\b(jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|may|june?|july?|aug(ust)?|sep(t(ember)?)?|oct(ober)?|nov(ember)?|dec(ember)?)\b|\b\d{1,2}/\d{1,2}\b`)
	immediateRe = regexp.MustCompile(`\b(now|today|ahora|hoy)\b`)
	relativeRe  = regexp.MustCompile(`\b(tomorrow|tonight|yesterday|next|last|in|after|mon|tue|wed|thu|fri|sat|sun)[a-z]*\b|\b(days?|weeks?|months?|years?|hours?|minutes?|mins?)\b`)
	clockRe     = regexp.MustCompile(`\d\s*(a\.?m\.?|p\.?m\.?)|\d{1,2}:\d{2}|\b(noon|midnight|o'clock)\b`)
)

var isoLayouts = []string{time.RFC3339, "2006-01-02T15:04Z07:00"}

// isoDate reads RFC 3339 timestamps and YYYY-MM-DD dates, which calendar-phrase
// recognition misreads as clock times. A date without a time takes the clock
// of base.
func isoDate(text string, base time.Time) (time.Time, phrase, bool) {
	if m := isoDateTimeRe.FindString(text); m != "" {
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, m); err == nil {
				return t, phraseDatedYear, true
			}
		}
	}
	m := isoDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, 0, false
	}
	d, err := time.ParseInLocation("2006-01-02", m[1], base.Location())
	if err != nil {
		return time.Time{}, 0, false
	}
	hour, minute := base.Hour(), base.Minute()
	if m[2] != "" {
		c, err := time.Parse("15:04", m[2])
		if err != nil {
			return time.Time{}, 0, false
		}
		hour, minute = c.Hour(), c.Minute()
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, base.Location()), phraseDatedYear, true
}

func classify(matched string) phrase {
	switch {
	case monthRe.MatchString(matched) && yearRe.MatchString(matched):
		return phraseDatedYear
	case monthRe.MatchString(matched):
		return phraseDate
	case immediateRe.MatchString(matched):
		return phraseImmediate
	case relativeRe.MatchString(matched):
		return phraseRelative
	case clockRe.MatchString(matched):
		return phraseClock
	default:
		return phraseRelative
	}
}

// forwardDate moves a past result to the occurrence the user most likely
// meant. Results that cannot mean a future time are rejected.
func forwardDate(due, now time.Time, kind phrase) (time.Time, bool) {
	if due.After(now) {
		return due, true
	}
	switch kind {
	case phraseImmediate:
		return now, true
	case phraseClock:
		return due.AddDate(0, 0, 1), true
	case phraseDate:
		if sameDay(due, now) {
			return now, true
		}
		return due.AddDate(1, 0, 0), true
	case phraseDatedYear:
		if sameDay(due, now) {
			return now, true
		}
		// An explicit past date is kept; scheduling fires it immediately.
		return due, true
	default:
		return time.Time{}, false
	}
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
