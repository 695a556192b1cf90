package dashboard

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AnthusAI/Plexus-sub006/internal/retry"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 1 << 20
)

// updateScoreResultMutation replaces the stored result for (runId, scoreId).
const updateScoreResultMutation = `mutation UpdateScoreResult($input: ScoreResultInput!) {
  updateScoreResult(input: $input) {
    runId
    scoreId
    status
  }
}`

// GraphQLMutator posts score updates to a GraphQL endpoint.
type GraphQLMutator struct {
	endpoint string
	apiKey   string
	client   *http.Client
	headers  map[string]string
}

// GraphQLOption configures a GraphQLMutator.
type GraphQLOption func(*GraphQLMutator)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) GraphQLOption {
	return func(m *GraphQLMutator) {
		if c != nil {
			m.client = c
		}
	}
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) GraphQLOption {
	return func(m *GraphQLMutator) { m.apiKey = key }
}

// WithHeader adds a static request header.
func WithHeader(k, v string) GraphQLOption {
	return func(m *GraphQLMutator) { m.headers[k] = v }
}

// NewGraphQLMutator validates the endpoint and applies options.
func NewGraphQLMutator(endpoint string, opts ...GraphQLOption) (*GraphQLMutator, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid graphql endpoint %q", endpoint)
	}
	m := &GraphQLMutator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		headers:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// UpdateScoreResult implements Mutator. Server errors, 429 and transport
// failures are transient; other 4xx responses and GraphQL errors are
// permanent.
func (m *GraphQLMutator) UpdateScoreResult(ctx context.Context, update ScoreUpdate) error {
	if err := update.Validate(); err != nil {
		return retry.Permanent(err)
	}

	body, err := json.Marshal(graphQLRequest{
		Query:     updateScoreResultMutation,
		Variables: map[string]any{"input": update},
	})
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to marshal update: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey(update))
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	for k, v := range m.headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("dashboard request failed: %w", err)
		}
		return retry.Transient(fmt.Errorf("dashboard request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return retry.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return retry.Transient(httpErr)
		}
		return retry.Permanent(httpErr)
	}

	var gqlResp graphQLResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &gqlResp); err != nil {
			return retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
	}
	if len(gqlResp.Errors) > 0 {
		gqlErr := &GraphQLError{}
		for _, e := range gqlResp.Errors {
			gqlErr.Messages = append(gqlErr.Messages, e.Message)
		}
		return retry.Permanent(gqlErr)
	}
	return nil
}

// idempotencyKey identifies one logical write.
func idempotencyKey(u ScoreUpdate) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%s:%d", u.RunID, u.ScoreID, u.Status, u.ProcessedItems)
	return hex.EncodeToString(h.Sum(nil))
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

