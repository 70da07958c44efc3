// Package messaging fetches raw survey responses from the messaging
// platform's HTTP API.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/surveyline-labs/surveyline-go/internal/platform/env"
)

type Config struct {
	BaseURL  string
	APIToken string
	PageSize int
	Timeout  time.Duration
}

func ConfigFromEnv() (Config, error) {
	pageSize, err := env.Int("SURVEYLINE_MESSAGING_PAGE_SIZE", 250)
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("SURVEYLINE_MESSAGING_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:  env.String("SURVEYLINE_MESSAGING_BASE_URL", ""),
		APIToken: env.String("SURVEYLINE_MESSAGING_API_TOKEN", ""),
		PageSize: pageSize,
		Timeout:  timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("messaging base url is required")
	}
	if strings.TrimSpace(c.APIToken) == "" {
		return errors.New("messaging api token is required")
	}
	if c.PageSize < 1 {
		return errors.New("messaging page size must be >= 1")
	}
	if c.Timeout <= 0 {
		return errors.New("messaging timeout must be positive")
	}
	return nil
}

// Run is one respondent's pass through a flow: the contact identifier, the
// flow's field values keyed by their external names, and the send timestamp.
type Run struct {
	ContactID string            `json:"contact_id"`
	FlowName  string            `json:"flow_name"`
	Values    map[string]string `json:"values"`
	SentOn    time.Time         `json:"sent_on"`
}

type runsPage struct {
	Results []Run  `json:"results"`
	Next    string `json:"next"`
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	pageSize   int
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse messaging base url: %w", err)
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIToken, TokenType: "Token"})
	httpClient := oauth2.NewClient(context.Background(), source)
	httpClient.Timeout = cfg.Timeout
	return &Client{baseURL: base, httpClient: httpClient, pageSize: cfg.PageSize}, nil
}

// FetchRuns pulls every run of one flow inside the window, following
// pagination cursors until the platform reports no more pages.
func (c *Client) FetchRuns(ctx context.Context, flowName string, after, before time.Time) ([]Run, error) {
	if c == nil || c.httpClient == nil {
		return nil, errors.New("messaging client not initialized")
	}
	flowName = strings.TrimSpace(flowName)
	if flowName == "" {
		return nil, errors.New("flow name is required")
	}

	runs := make([]Run, 0)
	cursor := ""
	for {
		page, err := c.fetchPage(ctx, flowName, after, before, cursor)
		if err != nil {
			return nil, err
		}
		runs = append(runs, page.Results...)
		if page.Next == "" {
			return runs, nil
		}
		cursor = page.Next
	}
}

func (c *Client) fetchPage(ctx context.Context, flowName string, after, before time.Time, cursor string) (runsPage, error) {
	endpoint := *c.baseURL
	endpoint.Path += "/api/v2/runs.json"
	query := endpoint.Query()
	query.Set("flow", flowName)
	query.Set("page_size", fmt.Sprintf("%d", c.pageSize))
	if !after.IsZero() {
		query.Set("after", after.UTC().Format(time.RFC3339))
	}
	if !before.IsZero() {
		query.Set("before", before.UTC().Format(time.RFC3339))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return runsPage{}, fmt.Errorf("build runs request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return runsPage{}, fmt.Errorf("fetch runs for flow %q: %w", flowName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return runsPage{}, fmt.Errorf("fetch runs for flow %q: status %d: %s", flowName, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page runsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return runsPage{}, fmt.Errorf("decode runs page: %w", err)
	}
	return page, nil
}
