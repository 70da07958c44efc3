// Package coding exchanges datasets with the external human-coding tool. One
// dataset is a JSON array of messages, each carrying the labels coders have
// applied so far.
package coding

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

	"golang.org/x/oauth2"

	"github.com/surveyline-labs/surveyline-go/internal/platform/env"
)

type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("SURVEYLINE_CODING_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:  env.String("SURVEYLINE_CODING_BASE_URL", ""),
		APIToken: env.String("SURVEYLINE_CODING_API_TOKEN", ""),
		Timeout:  timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("coding base url is required")
	}
	if strings.TrimSpace(c.APIToken) == "" {
		return errors.New("coding api token is required")
	}
	if c.Timeout <= 0 {
		return errors.New("coding timeout must be positive")
	}
	return nil
}

// Label is one categorical annotation applied by a coder.
type Label struct {
	SchemeID    string    `json:"SchemeID"`
	CodeID      string    `json:"CodeID"`
	Origin      string    `json:"Origin,omitempty"`
	DateTimeUTC time.Time `json:"DateTimeUTC"`
}

// Message is one coded message in a dataset.
type Message struct {
	MessageID           string    `json:"MessageID"`
	Text                string    `json:"Text"`
	CreationDateTimeUTC time.Time `json:"CreationDateTimeUTC"`
	Labels              []Label   `json:"Labels"`
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse coding base url: %w", err)
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIToken, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), source)
	httpClient.Timeout = cfg.Timeout
	return &Client{baseURL: base, httpClient: httpClient}, nil
}

// FetchDataset downloads every message of one dataset.
func (c *Client) FetchDataset(ctx context.Context, datasetName string) ([]Message, error) {
	if c == nil || c.httpClient == nil {
		return nil, errors.New("coding client not initialized")
	}
	datasetName = strings.TrimSpace(datasetName)
	if datasetName == "" {
		return nil, errors.New("dataset name is required")
	}

	endpoint := c.datasetURL(datasetName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build dataset request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset %q: %w", datasetName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// A dataset not yet created in the coding tool is empty, not fatal.
		return []Message{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("fetch dataset %q: status %d: %s", datasetName, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var messages []Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode dataset %q: %w", datasetName, err)
	}
	return messages, nil
}

// PushDataset uploads the merged messages for one dataset back to the coding
// tool, replacing what it holds.
func (c *Client) PushDataset(ctx context.Context, datasetName string, messages []Message) error {
	if c == nil || c.httpClient == nil {
		return errors.New("coding client not initialized")
	}
	datasetName = strings.TrimSpace(datasetName)
	if datasetName == "" {
		return errors.New("dataset name is required")
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode dataset %q: %w", datasetName, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.datasetURL(datasetName), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build dataset push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push dataset %q: %w", datasetName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push dataset %q: status %d: %s", datasetName, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *Client) datasetURL(datasetName string) string {
	endpoint := *c.baseURL
	endpoint.Path += "/datasets/" + url.PathEscape(datasetName) + "/messages"
	return endpoint.String()
}
