// Package whatsapp sends text messages through the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-reminders/internal/infrastructure/notify"
)

const defaultBaseURL = "https://graph.facebook.com"

type Client struct {
	baseURL    string
	apiVersion string
	phoneID    string
	token      string
	http       *http.Client
}

func NewClient(apiVersion, phoneID, token string) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiVersion: apiVersion,
		phoneID:    phoneID,
		token:      token,
		http:       &http.Client{},
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.phoneID != "" && c.token != ""
}

var _ notify.Sender = (*Client)(nil)

type textBody struct {
	Body string `json:"body"`
}

type sendMessageRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send delivers msg.Body to a WhatsApp ID (phone number, digits only or E.164).
func (c *Client) Send(ctx context.Context, to string, msg notify.Message) (string, error) {
	waid := strings.TrimPrefix(strings.TrimSpace(to), "+")
	if waid == "" {
		return "", fmt.Errorf("empty WhatsApp ID: %w", notify.ErrInvalidAddress)
	}
	body, err := json.Marshal(sendMessageRequest{
		MessagingProduct: "whatsapp",
		To:               waid,
		Type:             "text",
		Text:             textBody{Body: msg.Body},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whatsapp API error: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}
