package craft

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

	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 20 * time.Second
	maxResponseBytes      = 4 << 20
)

var errMissingBaseURL = errors.New("craft: base url required")

// ClientConfig configures the Craft block API client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
	Logger     *zap.Logger
}

// Client talks to the Craft block API. It never retries; every call either
// completes or reports a transport, status or schema failure.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *zap.Logger
	schemas    *responseSchemas
}

// NewClient validates configuration and compiles the response schemas.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("craft: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	schemas, err := compileResponseSchemas()
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(cfg.UserAgent),
		logger:     logger,
		schemas:    schemas,
	}, nil
}

// FetchDocument returns the block tree rooted at the document.
func (c *Client) FetchDocument(ctx context.Context, docID string) (Block, error) {
	query := url.Values{}
	query.Set("id", docID)
	body, err := c.do(ctx, "fetch_document", http.MethodGet, "/blocks?"+query.Encode(), nil)
	if err != nil {
		return Block{}, err
	}
	if err := validateBody(c.schemas.document, body); err != nil {
		return Block{}, err
	}
	var document Block
	if err := json.Unmarshal(body, &document); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return document, nil
}

// Search finds the first block in the document whose text matches the pattern.
// found is false only when the API answered successfully with no matches.
func (c *Client) Search(ctx context.Context, docID, pattern string) (string, bool, error) {
	query := url.Values{}
	query.Set("blockId", docID)
	query.Set("pattern", pattern)
	body, err := c.do(ctx, "search", http.MethodGet, "/blocks/search?"+query.Encode(), nil)
	if err != nil {
		return "", false, err
	}
	if err := validateBody(c.schemas.search, body); err != nil {
		return "", false, err
	}
	var response searchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(response.Items) == 0 {
		return "", false, nil
	}
	return response.Items[0].BlockID, true, nil
}

// Insert appends a markdown text block under the parent block and returns the
// new block id. An empty id with a nil error means the API accepted the block
// without reporting its id; callers that need the id must treat that as failure.
func (c *Client) Insert(ctx context.Context, parentID, markdown string, position Position) (string, error) {
	if position != PositionStart && position != PositionEnd {
		return "", fmt.Errorf("%w: %q", ErrInvalidPosition, position)
	}
	payload, err := json.Marshal(insertRequest{
		Blocks: []insertBlock{{Type: textBlockType, Markdown: markdown}},
		Position: insertPosition{
			Position: position,
			PageID:   parentID,
		},
	})
	if err != nil {
		return "", err
	}
	body, err := c.do(ctx, "insert", http.MethodPost, "/blocks", payload)
	if err != nil {
		return "", err
	}
	if err := validateBody(c.schemas.insert, body); err != nil {
		return "", err
	}
	var response insertResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(response.Items) == 0 {
		return "", nil
	}
	return strings.TrimSpace(response.Items[0].ID), nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, payload []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("craft client is nil")
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("craft %s request failed: %w", operation, err)
	}
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("craft %s read failed: %w", operation, readErr)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return respBody, nil
	}

	remoteErr := &RemoteError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(respBody)),
	}
	var parsed map[string]any
	if json.Unmarshal(respBody, &parsed) == nil {
		if code, ok := parsed["code"].(string); ok {
			remoteErr.Code = code
		}
		if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
			remoteErr.Message = message
		}
	}
	c.logger.Warn("craft request rejected",
		zap.String("operation", operation),
		zap.Int("status", resp.StatusCode),
		zap.String("code", remoteErr.Code))
	return nil, remoteErr
}
