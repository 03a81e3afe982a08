// Package parse turns free-form reminder text into a structured ParseOutput.
// A deterministic baseline always runs; an optional Enricher can refine it
// under a hard timeout. Parsing never fails: degraded inputs yield a
// low-confidence result.
package parse

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-reminders/internal/domain"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/rs/zerolog"
)

const (
	confidenceDated   = 0.8
	confidenceUndated = 0.5
	// confidenceEnriched is assumed when the enricher does not report one.
	confidenceEnriched = 0.85

	maxTitleRunes = 60
	minTitleRunes = 3
	defaultTitle  = "Reminder"
	baselineNotes = "baseline"

	DefaultEnrichTimeout = 1500 * time.Millisecond
)

// Enricher is an external language-understanding pass.
type Enricher interface {
	Enrich(ctx context.Context, text, tz string) (*domain.Enrichment, error)
}

type Parser struct {
	dates    *when.Parser
	enricher Enricher
	timeout  time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Parser)

// WithEnricher enables the enrichment pass with the given hard timeout.
func WithEnricher(e Enricher, timeout time.Duration) Option {
	return func(p *Parser) {
		p.enricher = e
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Parser) { p.log = log }
}

func New(opts ...Option) *Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	p := &Parser{
		dates:   w,
		timeout: DefaultEnrichTimeout,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse returns the baseline reading of text, refined by the enricher when
// one is configured and answers in time.
func (p *Parser) Parse(ctx context.Context, text, tz string) domain.ParseOutput {
	out := p.Baseline(text, tz)
	if p.enricher == nil {
		return out
	}
	ectx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	e, err := p.enricher.Enrich(ectx, text, tz)
	if err != nil {
		p.log.Debug().Err(err).Msg("enrichment skipped")
		return out
	}
	return Merge(out, e)
}

// Baseline is the deterministic pass: calendar phrases, channel and category
// keywords, recurrence keywords and a title heuristic.
func (p *Parser) Baseline(text, tz string) domain.ParseOutput {
	loc := loadLocation(tz)
	lower := strings.ToLower(text)
	notes := baselineNotes
	out := domain.ParseOutput{
		Title:      title(text),
		Notes:      &notes,
		Confidence: confidenceUndated,
	}

	if due, ok := p.dueAt(text, p.now().In(loc)); ok {
		out.DueAt = &due
		out.Confidence = confidenceDated
	}
	ch := channelOf(lower)
	out.Channel = &ch
	if c, ok := match(lower, categories); ok {
		out.Category = &c
	}
	if r, ok := match(lower, recurrences); ok {
		out.Recurrence = &r
	}
	return out
}

func (p *Parser) dueAt(text string, now time.Time) (time.Time, bool) {
	base := now.Truncate(time.Minute)
	due, kind, ok := isoDate(text, base)
	if !ok {
		r, err := p.dates.Parse(text, base)
		if err != nil || r == nil {
			return time.Time{}, false
		}
		due, kind = r.Time, classify(strings.ToLower(r.Text))
	}
	due, ok = forwardDate(due, now, kind)
	if !ok {
		return time.Time{}, false
	}
	return due.UTC(), true
}

func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

var clauseSep = regexp.MustCompile(`[\n.;!?]`)

func title(text string) string {
	t := strings.TrimSpace(clauseSep.Split(strings.TrimSpace(text), 2)[0])
	if utf8.RuneCountInString(t) > maxTitleRunes {
		t = strings.TrimSpace(string([]rune(t)[:maxTitleRunes]))
	}
	if utf8.RuneCountInString(t) < minTitleRunes {
		return defaultTitle
	}
	return t
}

var (
	chatWords = regexp.MustCompile(`\b(whatsapp|telegram|chat|mensaje)\b`)
	smsWords  = regexp.MustCompile(`\b(sms|text me|mensaje de texto)\b`)
)

func channelOf(lower string) domain.Channel {
	// "mensaje de texto" is SMS, so SMS is checked first.
	if smsWords.MatchString(lower) {
		return domain.ChannelSMS
	}
	if chatWords.MatchString(lower) {
		return domain.ChannelChat
	}
	return domain.ChannelEmail
}

type vocabulary struct {
	label string
	re    *regexp.Regexp
}

func words(label string, terms ...string) vocabulary {
	return vocabulary{label: label, re: regexp.MustCompile(`(^|[^\p{L}])(` + strings.Join(terms, "|") + `)($|[^\p{L}])`)}
}

// Ordered: the first vocabulary that matches wins.
var categories = []vocabulary{
	words("utility", "electricity", "electric", "power", "water", "gas", "luz", "agua", "cfe"),
	words("telco", "phone", "cell", "telcel", "teléfono", "telefono", "celular", "saldo"),
	words("internet", "internet", "wifi", "izzi", "totalplay"),
	words("tuition", "tuition", "school", "colegiatura", "escuela"),
	words("rent", "rent", "renta", "alquiler"),
	words("gov", "government", "taxes", "imss", "sat", "ine", "trámite", "tramite", "gobierno"),
}

var recurrences = []vocabulary{
	words("daily", "daily", "every day", "diario", "cada día", "cada dia"),
	words("weekly", "weekly", "every week", "semanal", "cada semana"),
	words("monthly", "monthly", "every month", "mensual", "cada mes"),
}

func match(lower string, vocab []vocabulary) (string, bool) {
	for _, v := range vocab {
		if v.re.MatchString(lower) {
			return v.label, true
		}
	}
	return "", false
}

// Merge lays the enrichment over the baseline field by field. Nil enrichment
// fields never clear baseline values.
func Merge(base domain.ParseOutput, e *domain.Enrichment) domain.ParseOutput {
	if e == nil {
		return base
	}
	out := base
	if e.Title != nil && strings.TrimSpace(*e.Title) != "" {
		out.Title = strings.TrimSpace(*e.Title)
	}
	if e.DueAt != nil && !e.DueAt.IsZero() {
		due := e.DueAt.UTC()
		out.DueAt = &due
	}
	if e.Recurrence != nil {
		out.Recurrence = e.Recurrence
	}
	if e.Channel != nil {
		if ch, err := domain.ParseChannel(string(*e.Channel)); err == nil {
			out.Channel = &ch
		}
	}
	if e.Category != nil {
		out.Category = e.Category
	}
	if e.Notes != nil {
		out.Notes = e.Notes
	}
	conf := confidenceEnriched
	if e.Confidence != nil {
		conf = *e.Confidence
	}
	if conf > out.Confidence {
		out.Confidence = conf
	}
	out.Confidence = clamp(out.Confidence)
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
