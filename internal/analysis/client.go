package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"go.uber.org/zap"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 2
	defaultBaseBackoff = 500 * time.Millisecond
)

// Opts configures a Client.
type Opts struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	MaxRetries int
	Logger     *zap.Logger
}

// Client is the HTTP implementation of Handoff and Responder.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger
}

var (
	_ Handoff   = (*Client)(nil)
	_ Responder = (*Client)(nil)
)

// retryableError marks transport failures and 429/5xx answers.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// New creates an analysis client.
func New(opts Opts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("analysis: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		http:       hc,
		maxRetries: retries,
		backoff:    defaultBaseBackoff,
		log:        logging.OrNop(opts.Logger),
	}, nil
}

type taskConclusion struct {
	AccountID              string   `json:"accountId"`
	RequestID              string   `json:"requestId"`
	Status                 string   `json:"status"`
	CompletedConversations int      `json:"completedConversations"`
	ConversationIDs        []string `json:"conversationIds"`
	Scenario               string   `json:"scenario,omitempty"`
}

// ConcludeTask submits a finished task for scoring.
func (c *Client) ConcludeTask(ctx context.Context, task *models.Task) error {
	body := taskConclusion{
		AccountID:              task.AccountID,
		RequestID:              task.ID,
		Status:                 string(task.Status),
		CompletedConversations: task.CompletedConversations,
		ConversationIDs:        task.CompletedConvIDs,
		Scenario:               task.Scenario,
	}
	path := fmt.Sprintf("/v1/accounts/%s/tasks/%s/conclude", url.PathEscape(task.AccountID), url.PathEscape(task.ID))
	return c.post(ctx, path, body, nil)
}

// ConcludeConversation submits one finished conversation transcript for scoring.
func (c *Client) ConcludeConversation(ctx context.Context, accountID, requestID, conversationID string) error {
	path := fmt.Sprintf("/v1/accounts/%s/tasks/%s/conversations/%s/conclude",
		url.PathEscape(accountID), url.PathEscape(requestID), url.PathEscape(conversationID))
	return c.post(ctx, path, struct{}{}, nil)
}

type replyRequest struct {
	Scenario      string   `json:"scenario,omitempty"`
	Persona       string   `json:"persona,omitempty"`
	AgentMessages []string `json:"agentMessages"`
	Turn          int      `json:"turn"`
}

type replyResponse struct {
	Message string `json:"message"`
}

// NextConsumerMessage asks the service for the consumer's next line.
func (c *Client) NextConsumerMessage(ctx context.Context, task *models.Task, conv *models.Conversation) (string, error) {
	path := fmt.Sprintf("/v1/accounts/%s/conversations/%s/reply", url.PathEscape(conv.AccountID), url.PathEscape(conv.ID))
	var out replyResponse
	err := c.post(ctx, path, replyRequest{
		Scenario:      task.Scenario,
		Persona:       task.Persona,
		AgentMessages: conv.AgentMessages,
		Turn:          conv.AgentTurns,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("analysis: marshal %s: %w", path, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.doPost(ctx, path, data, out)
		if err == nil {
			return nil
		}
		lastErr = err
		var re *retryableError
		if !errors.As(err, &re) {
			return err
		}
		c.log.Debug("analysis request failed, retrying", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("analysis: max retries exceeded: %w", lastErr)
}

func (c *Client) doPost(ctx context.Context, path string, data []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("analysis: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("analysis: %s: %w", path, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("analysis: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &retryableError{err: fmt.Errorf("analysis: %s: status %d: %s", path, resp.StatusCode, body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("analysis: %s: status %d: %s", path, resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("analysis: decode %s: %w", path, err)
	}
	return nil
}
