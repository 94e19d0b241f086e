package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.x.com"
	tweetsPath     = "/2/tweets"
	mePath         = "/2/users/me"
)

// XClient publishes posts through the X API v2 using an OAuth 2.0 user
// access token.
type XClient struct {
	accessToken string
	baseURL     string
	client      *http.Client
}

// NewXClient creates a client for the X API v2.
func NewXClient(accessToken string) *XClient {
	return &XClient{
		accessToken: accessToken,
		baseURL:     defaultBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewXClientWithBaseURL is for tests that point the client at a fake server.
func NewXClientWithBaseURL(accessToken, baseURL string) *XClient {
	c := NewXClient(accessToken)
	c.baseURL = baseURL
	return c
}

// tweetRequest is the POST /2/tweets request body.
type tweetRequest struct {
	Text string `json:"text"`
}

// tweetResponse is the POST /2/tweets response body.
type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// Init verifies the access token by fetching the authenticated user. An
// auth failure is returned as *FatalError so startup can abort.
func (c *XClient) Init(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+mePath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransientError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Msg: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, string(body))
	}
	return nil
}

// Publish posts content as a tweet and returns the tweet id.
func (c *XClient) Publish(ctx context.Context, content string) (string, error) {
	jsonBody, err := json.Marshal(tweetRequest{Text: content})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+tweetsPath, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failures are worth another try.
		return "", &TransientError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Msg: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, string(body))
	}

	var tweetResp tweetResponse
	if err := json.Unmarshal(body, &tweetResp); err != nil {
		return "", fmt.Errorf("failed to parse X API response: %w", err)
	}
	if tweetResp.Data.ID == "" {
		return "", fmt.Errorf("X API returned no tweet id: %s", string(body))
	}
	return tweetResp.Data.ID, nil
}

// classifyStatus maps an X API error status to the retry taxonomy.
// 429 and 5xx are transient; auth failures, duplicate content, and other
// 4xx rejections are fatal for this content.
func classifyStatus(status int, body string) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{Status: status, Msg: body}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &FatalError{Status: status, Msg: body}
	}
	if strings.Contains(strings.ToLower(body), "duplicate") {
		return &FatalError{Status: status, Msg: body}
	}
	return &FatalError{Status: status, Msg: body}
}
