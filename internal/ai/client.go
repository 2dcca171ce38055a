// Package ai turns raw activity reports into refined backlog items using the
// Anthropic Messages API.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/flitsinc/go-backlog/internal/backlog"
	"github.com/flitsinc/go-backlog/internal/observability"
)

const (
	DefaultModel = "claude-3-5-haiku-latest"
	maxTokens    = 1024
	maxRetries   = 2
)

const systemPrompt = `You are a Scrum expert. Turn bug reports into well-formed backlog activities.
Return a JSON object with the keys "title", "description" and "acceptance_criteria".
- title: a short, clear sentence (user story or bug style).
- description: one objective paragraph with context and impact.
- acceptance_criteria: an array of strings, each a clear and testable criterion.
Stay faithful to the information provided; only organize it and improve the wording. Reply with the JSON only, without markdown.`

var errNoContent = errors.New("no text content in response")

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// Timeout bounds a whole Refine call, retries included.
	Timeout      time.Duration
	RetryInitial time.Duration
	Logger       *slog.Logger
}

// Client refines raw reports. A nil *Client is valid and never refines.
type Client struct {
	client       anthropic.Client
	model        anthropic.Model
	timeout      time.Duration
	retryInitial time.Duration
	logger       *slog.Logger
}

// NewClient returns nil when no API key is configured so refinement is
// simply skipped.
func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retryInitial := cfg.RetryInitial
	if retryInitial <= 0 {
		retryInitial = 500 * time.Millisecond
	}
	return &Client{
		client:       anthropic.NewClient(opts...),
		model:        anthropic.Model(model),
		timeout:      cfg.Timeout,
		retryInitial: retryInitial,
		logger:       logger,
	}
}

// Refine returns nil whenever no usable refinement could be produced. The
// cause is logged and counted, never returned.
func (c *Client) Refine(ctx context.Context, raw backlog.RawFields) *backlog.Refinement {
	if c == nil {
		return nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	text, err := c.complete(ctx, userPrompt(raw))
	if err != nil {
		c.logger.Warn("refinement request failed", "error", err)
		observability.RecordRefinement("error")
		return nil
	}
	ref, err := ParseRefinement(text)
	if err != nil {
		c.logger.Warn("refinement response unusable", "error", err)
		observability.RecordRefinement("malformed")
		return nil
	}
	observability.RecordRefinement("ok")
	return ref
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(0.3),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial
	var text string
	err := backoff.Retry(func() error {
		message, err := c.client.Messages.New(ctx, params)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		for _, block := range message.Content {
			if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
				text = block.Text
				return nil
			}
		}
		return backoff.Permanent(errNoContent)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	if err != nil {
		return "", err
	}
	return text, nil
}

func userPrompt(raw backlog.RawFields) string {
	parts := []string{
		"Title: " + raw.Title,
		"Description: " + raw.Description,
		"Steps to reproduce: " + raw.Steps,
		"Expected vs actual: " + raw.ExpectedVsActual,
	}
	if strings.TrimSpace(raw.Context) != "" {
		parts = append(parts, "Context: "+raw.Context)
	}
	return strings.Join(parts, "\n\n")
}

type refinementJSON struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// ParseRefinement decodes a model reply, tolerating a surrounding markdown
// code fence.
func ParseRefinement(text string) (*backlog.Refinement, error) {
	body := stripFence(strings.TrimSpace(text))
	if body == "" {
		return nil, errNoContent
	}
	var out refinementJSON
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("decode refinement: %w", err)
	}
	criteria := make([]string, 0, len(out.AcceptanceCriteria))
	for _, c := range out.AcceptanceCriteria {
		if c = strings.TrimSpace(c); c != "" {
			criteria = append(criteria, c)
		}
	}
	if strings.TrimSpace(out.Title) == "" && strings.TrimSpace(out.Description) == "" && len(criteria) == 0 {
		return nil, errNoContent
	}
	return &backlog.Refinement{
		Title:              strings.TrimSpace(out.Title),
		Description:        strings.TrimSpace(out.Description),
		AcceptanceCriteria: criteria,
	}, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line.
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
