package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/consultcredit/internal/reputation"
	"github.com/mbd888/consultcredit/internal/usage"
)

// Config holds the configuration for connecting to the credits API.
type Config struct {
	APIURL  string        // Base URL, e.g. "http://localhost:8080"
	APIKey  string        // API key, e.g. "sk_..."
	Timeout time.Duration // per-request timeout; 30s when zero
	Version string        // reported to MCP clients during initialize
}

const defaultTimeout = 30 * time.Second

// Client is a pure HTTP client for the credits API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the credits API.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request and decodes a successful response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetUsage returns the caller's balance and derived summary.
func (c *Client) GetUsage(ctx context.Context) (*usage.Usage, error) {
	var resp struct {
		Usage *usage.Usage `json:"usage"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/v1/usage", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Usage == nil {
		return nil, fmt.Errorf("response has no usage")
	}
	return resp.Usage, nil
}

// Consume records one turn of token usage for the caller.
func (c *Client) Consume(ctx context.Context, tokens int64, precise bool) (*usage.ConsumeResult, error) {
	body := usage.ConsumeRequest{Tokens: tokens, Precise: precise}
	var resp struct {
		Result *usage.ConsumeResult `json:"result"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/v1/usage/consume", nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("response has no result")
	}
	return resp.Result, nil
}

// GetExpertLevel returns an expert's level and per-minute price.
func (c *Client) GetExpertLevel(ctx context.Context, expertID string) (*reputation.ExpertLevel, error) {
	var resp struct {
		Expert *reputation.ExpertLevel `json:"expert"`
	}
	path := "/v1/experts/" + url.PathEscape(expertID) + "/level"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Expert == nil {
		return nil, fmt.Errorf("response has no expert")
	}
	return resp.Expert, nil
}

// QuoteSession prices a session with an expert.
func (c *Client) QuoteSession(ctx context.Context, expertID string, minutes int64) (*reputation.Quote, error) {
	q := url.Values{}
	q.Set("minutes", strconv.FormatInt(minutes, 10))
	var resp struct {
		Quote *reputation.Quote `json:"quote"`
	}
	path := "/v1/experts/" + url.PathEscape(expertID) + "/quote"
	if err := c.doRequest(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Quote == nil {
		return nil, fmt.Errorf("response has no quote")
	}
	return resp.Quote, nil
}

// ListRankings returns the top of the expert ranking.
func (c *Client) ListRankings(ctx context.Context, limit int) ([]reputation.RankEntry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Rankings []reputation.RankEntry `json:"rankings"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/v1/rankings", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rankings, nil
}
