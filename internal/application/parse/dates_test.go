package parse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseline_ForwardDating(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)
	local := func(y int, m time.Month, d, h, min int) time.Time { return time.Date(y, m, d, h, min, 0, 0, loc) }

	tests := []struct {
		text string
		want time.Time
	}{
		{"call mom now", fixedNow},
		{"call mom today", fixedNow},
		{"pay rent on march 14", fixedNow},
		{"pay rent on march 10", local(2031, time.March, 10, 9, 4)},
		{"renew passport 2030-03-20", local(2030, time.March, 20, 9, 4)},
		{"renew passport 2030-03-20 16:30", local(2030, time.March, 20, 16, 30)},
		{"deadline 2030-03-20T18:00:00Z", time.Date(2030, 3, 20, 18, 0, 0, 0, time.UTC)},
		{"standup at 8am", local(2030, time.March, 15, 8, 0)},
		{"standup at 5pm", local(2030, time.March, 14, 17, 0)},
	}
	p := newTestParser()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			out := p.Baseline(tt.text, "America/Mexico_City")
			require.NotNil(t, out.DueAt)
			assert.True(t, tt.want.Equal(*out.DueAt), "got %s want %s", out.DueAt.In(loc), tt.want.In(loc))
			assert.InDelta(t, 0.8, out.Confidence, 1e-9)
		})
	}
}

func TestBaseline_PastRelativePhraseIsUndated(t *testing.T) {
	out := newTestParser().Parse(context.Background(), "what happened yesterday", "America/Mexico_City")
	assert.Nil(t, out.DueAt)
	assert.InDelta(t, 0.5, out.Confidence, 1e-9)
}

func TestClassify(t *testing.T) {
	tests := map[string]phrase{
		"now":                phraseImmediate,
		"today":              phraseImmediate,
		"at 8am":             phraseClock,
		"at 17:30":           phraseClock,
		"tomorrow 9am":       phraseRelative,
		"next friday":        phraseRelative,
		"in 2 hours":         phraseRelative,
		"march 14":           phraseDate,
		"14/03":              phraseDate,
		"march 14 2031":      phraseDatedYear,
		"on december 1 2029": phraseDatedYear,
	}
	for in, want := range tests {
		assert.Equal(t, want, classify(in), in)
	}
}

func TestForwardDate(t *testing.T) {
	now := time.Date(2030, 3, 14, 9, 4, 27, 0, time.UTC)
	earlier := now.Add(-time.Hour)
	lastWeek := now.AddDate(0, 0, -7)

	tests := []struct {
		name string
		due  time.Time
		kind phrase
		want time.Time
		ok   bool
	}{
		{"future kept", now.Add(time.Hour), phraseClock, now.Add(time.Hour), true},
		{"immediate clamps", earlier, phraseImmediate, now, true},
		{"clock rolls a day", earlier, phraseClock, earlier.AddDate(0, 0, 1), true},
		{"date today clamps", earlier, phraseDate, now, true},
		{"date rolls a year", lastWeek, phraseDate, lastWeek.AddDate(1, 0, 0), true},
		{"explicit year kept", lastWeek, phraseDatedYear, lastWeek, true},
		{"past relative rejected", lastWeek, phraseRelative, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := forwardDate(tt.due, now, tt.kind)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}
