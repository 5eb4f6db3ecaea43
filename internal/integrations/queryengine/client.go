package queryengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"datachat-agent/internal/domain"
)

// queryRequest is the request shape accepted by the execution engine.
type queryRequest struct {
	QuestionText string `json:"questionText"`
}

// queryResponse is the engine's success payload. Only sql and rows are
// guaranteed; everything else may be absent and is modelled as a pointer or
// zero value rather than assumed.
type queryResponse struct {
	SQL               string        `json:"sql"`
	Rows              domain.RowSet `json:"rows"`
	RowCount          int           `json:"rowCount"`
	ReferencedSources []string      `json:"referencedSources"`
	EstimatedCostUSD  *float64      `json:"estimatedCostUsd"`
	BytesProcessed    *int64        `json:"bytesProcessed"`
	Complexity        string        `json:"complexity"`
	Explanation       string        `json:"explanation"`
	OptimizationNotes string        `json:"optimizationNotes"`
}

// errorResponse is the engine's failure payload.
type errorResponse struct {
	Detail string `json:"detail"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Detail     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("queryengine: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Detail)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client dispatches natural-language questions to the execution engine over
// HTTP. It satisfies usecase.QueryDispatcher.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client for the engine at baseURL, backed by the given
// paramstore Getter for API token retrieval. The token is fetched from SSM
// on the first Dispatch and reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix, baseURL string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("queryengine: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("queryengine: parameter prefix must not be empty")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("queryengine: base URL must not be empty")
	}
	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIToken fetches the token from SSM on the first call and returns
// the cached result on every subsequent call.
func (c *Client) resolveAPIToken(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchTokenFromParamStore(ctx, c.getter, c.tokenParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/query-engine-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func queryURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/query"
	}
	return base + "/v1/query"
}

// Dispatch sends one question to the engine and maps the payload onto the
// domain result. Optional payload fields stay nil or zero when absent.
func (c *Client) Dispatch(ctx context.Context, question string) (domain.QueryResult, error) {
	if strings.TrimSpace(question) == "" {
		return domain.QueryResult{}, errors.New("queryengine: question must not be empty")
	}

	token, err := c.resolveAPIToken(ctx)
	if err != nil {
		return domain.QueryResult{}, err
	}

	body, err := json.Marshal(queryRequest{QuestionText: question})
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("queryengine: marshal request: %w", err)
	}

	url := queryURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return domain.QueryResult{}, fmt.Errorf("queryengine: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("queryengine: request failed: %w", err)
	}

	var payload queryResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return domain.QueryResult{}, fmt.Errorf("queryengine: decode response: %w", decErr)
	}

	return domain.QueryResult{
		SQL:               payload.SQL,
		Rows:              payload.Rows,
		RowCount:          payload.RowCount,
		ReferencedSources: payload.ReferencedSources,
		EstimatedCostUSD:  payload.EstimatedCostUSD,
		BytesProcessed:    payload.BytesProcessed,
		Complexity:        payload.Complexity,
		Explanation:       payload.Explanation,
		OptimizationNotes: payload.OptimizationNotes,
	}, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Detail:     errorDetail(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// errorDetail extracts the engine's displayable detail string when the error
// body is the documented JSON shape, falling back to the raw body text.
func errorDetail(body []byte) string {
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return string(body)
}

func fetchTokenFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("queryengine: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("queryengine: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("queryengine: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("queryengine: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("queryengine: API token is empty")
	}
	return tp.Token, nil
}
