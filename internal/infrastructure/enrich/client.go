// Package enrich calls an OpenAI-compatible chat completion endpoint to refine
// the baseline reading of reminder text. The model is asked for a JSON object;
// fields it cannot determine are left out.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-reminders/internal/domain"
)

var ErrDisabled = errors.New("enrichment disabled")

const systemPrompt = `Extract a reminder from the user's text. Reply with a JSON object using only these optional keys:
"title" (short imperative), "dueAtISO" (RFC3339 with offset, resolved against the given timezone and current time),
"rrule" ("daily", "weekly", "monthly", "every <duration>" or a 5-field cron expression),
"channel" ("EMAIL", "CHAT" or "SMS"), "category", "notes", "confidence" (0..1). Omit keys you cannot determine.`

type Client struct {
	url    string
	apiKey string
	model  string
	http   *http.Client
	now    func() time.Time
}

func NewClient(url, apiKey, model string) *Client {
	return &Client{
		url:    url,
		apiKey: apiKey,
		model:  model,
		http:   &http.Client{},
		now:    time.Now,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type result struct {
	Title      *string  `json:"title"`
	DueAtISO   *string  `json:"dueAtISO"`
	Rrule      *string  `json:"rrule"`
	Channel    *string  `json:"channel"`
	Category   *string  `json:"category"`
	Notes      *string  `json:"notes"`
	Confidence *float64 `json:"confidence"`
}

// Enrich returns the fields the model could extract. The caller bounds the call with ctx.
func (c *Client) Enrich(ctx context.Context, text, tz string) (*domain.Enrichment, error) {
	if c.url == "" {
		return nil, ErrDisabled
	}
	if tz == "" {
		tz = "UTC"
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("timezone: %s\nnow: %s\ntext: %s", tz, c.now().UTC().Format(time.RFC3339), text)},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("enrich API error: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, errors.New("enrich API returned no choices")
	}
	var r result
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &r); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return r.toEnrichment(), nil
}

// toEnrichment keeps only well-typed fields; a bad due time or channel is dropped.
func (r result) toEnrichment() *domain.Enrichment {
	e := &domain.Enrichment{
		Title:      nonEmpty(r.Title),
		Recurrence: nonEmpty(r.Rrule),
		Category:   nonEmpty(r.Category),
		Notes:      nonEmpty(r.Notes),
		Confidence: r.Confidence,
	}
	if s := nonEmpty(r.DueAtISO); s != nil {
		if t, err := time.Parse(time.RFC3339, *s); err == nil {
			t = t.UTC()
			e.DueAt = &t
		}
	}
	if s := nonEmpty(r.Channel); s != nil {
		if ch, err := domain.ParseChannel(*s); err == nil {
			e.Channel = &ch
		}
	}
	return e
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
