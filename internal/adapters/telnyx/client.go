package telnyx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/pkg/logger"
)

const defaultAPIBase = "https://api.telnyx.com/v2"

// Client is a thin HTTP client for the Telnyx Call Control v2 API.
// Every failure is classified transient or fatal before it leaves this
// package; callers never see raw HTTP or decoding errors.
type Client struct {
	apiKey       string
	apiBase      string
	connectionID string
	webhookURL   string
	httpClient   *http.Client
}

// Config holds the Telnyx connection settings
type Config struct {
	APIKey       string
	APIBase      string
	ConnectionID string
	WebhookURL   string
}

// NewClient creates a Telnyx call control client
func NewClient(cfg Config) *Client {
	base := cfg.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	return &Client{
		apiKey:       cfg.APIKey,
		apiBase:      base,
		connectionID: cfg.ConnectionID,
		webhookURL:   cfg.WebhookURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

type apiError struct {
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type callResponse struct {
	Data struct {
		CallControlID string `json:"call_control_id"`
		CallSessionID string `json:"call_session_id"`
		CallLegID     string `json:"call_leg_id"`
		IsAlive       bool   `json:"is_alive"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

// PlaceCall dials an outbound call and returns the provider-assigned
// call control ID used to correlate every later webhook.
func (c *Client) PlaceCall(ctx context.Context, to, from string) (string, error) {
	callReq := map[string]any{
		"connection_id": c.connectionID,
		"to":            to,
		"from":          from,
		"webhook_url":   c.webhookURL,
		"timeout_secs":  60,
	}

	body, status, err := c.post(ctx, c.apiBase+"/calls", callReq)
	if err != nil {
		return "", domain.TransientError("telnyx.place_call", err)
	}

	var result callResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", domain.TransientError("telnyx.place_call", fmt.Errorf("decode response: %w (body: %s)", err, string(body)))
	}
	if len(result.Errors) > 0 {
		// The API explaining why it will not place this call is final.
		return "", domain.FatalError("telnyx.place_call",
			fmt.Errorf("telnyx rejected call: %s - %s", result.Errors[0].Title, result.Errors[0].Detail))
	}
	if status >= 400 {
		return "", classify("telnyx.place_call", status, body)
	}

	logger.Base().Info("Outbound call initiated",
		zap.String("call_control_id", result.Data.CallControlID), zap.String("to", to))
	return result.Data.CallControlID, nil
}

// Answer answers an inbound call leg.
func (c *Client) Answer(ctx context.Context, callID string) error {
	return c.callAction(ctx, callID, "answer", map[string]any{})
}

// Speak plays text-to-speech on the call leg.
func (c *Client) Speak(ctx context.Context, callID, text, voice, language string) error {
	if voice == "" {
		voice = "female"
	}
	if language == "" {
		language = "en-US"
	}
	return c.callAction(ctx, callID, "speak", map[string]any{
		"payload":  text,
		"voice":    voice,
		"language": language,
	})
}

// GatherOptions tunes a gather action
type GatherOptions struct {
	ValidDigits      string
	MaxDigits        int
	TimeoutMillis    int
	Voice            string
	Language         string
	TerminatingDigit string
}

// GatherDigits speaks a prompt and collects keypad input. The digits
// come back asynchronously on the call.gather.ended webhook.
func (c *Client) GatherDigits(ctx context.Context, callID, prompt string, opts GatherOptions) error {
	if opts.MaxDigits == 0 {
		opts.MaxDigits = 1
	}
	if opts.TimeoutMillis == 0 {
		opts.TimeoutMillis = 15000
	}
	if opts.Voice == "" {
		opts.Voice = "female"
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	params := map[string]any{
		"payload":                    prompt,
		"voice":                      opts.Voice,
		"language":                   opts.Language,
		"maximum_digits":             opts.MaxDigits,
		"timeout_millis":             opts.TimeoutMillis,
		"inter_digit_timeout_millis": 5000,
	}
	if opts.ValidDigits != "" {
		params["valid_digits"] = opts.ValidDigits
	}
	if opts.TerminatingDigit != "" {
		params["terminating_digit"] = opts.TerminatingDigit
	}
	return c.callAction(ctx, callID, "gather_using_speak", params)
}

// Hangup terminates the call leg.
func (c *Client) Hangup(ctx context.Context, callID string) error {
	return c.callAction(ctx, callID, "hangup", map[string]any{})
}

// callAction performs a call control action via the Telnyx API
func (c *Client) callAction(ctx context.Context, callID, action string, params map[string]any) error {
	op := "telnyx." + action
	url := fmt.Sprintf("%s/calls/%s/actions/%s", c.apiBase, callID, action)

	body, status, err := c.post(ctx, url, params)
	if err != nil {
		return domain.TransientError(op, err)
	}
	if status >= 400 {
		return classify(op, status, body)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, payload map[string]any) ([]byte, int, error) {
	reqBody, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// classify maps an HTTP status to the error taxonomy: 4xx means the
// provider rejected the request itself, 5xx is worth treating as a
// provider hiccup.
func classify(op string, status int, body []byte) error {
	err := fmt.Errorf("telnyx API error (status %d): %s", status, string(body))
	if status >= 400 && status < 500 {
		return domain.FatalError(op, err)
	}
	return domain.TransientError(op, err)
}
