// Package backend is the HTTP client for the summary and assistant service.
package backend

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
)

// ErrRemoteFetchFailed covers transport errors, non-2xx replies and empty answers.
var ErrRemoteFetchFailed = errors.New("remote fetch failed")

// SummaryFetcher returns the highlight text for a model number.
type SummaryFetcher interface {
	Summary(ctx context.Context, modelNo string) (string, error)
}

// ChatSender forwards a user turn to the assistant.
type ChatSender interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Search(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

type ChatRequest struct {
	UUID    string `json:"uuid"`
	Content string `json:"content"`
}

// ChatResponse is the union of the assistant's reply shapes. Type selects
// which of ModelNo and ModelNoList is meaningful.
type ChatResponse struct {
	Type        string   `json:"type"`
	Content     string   `json:"content"`
	ModelNo     string   `json:"modelNo,omitempty"`
	ModelNoList []string `json:"modelNoList,omitempty"`
}

type Client struct {
	base   string
	client *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Summary(ctx context.Context, modelNo string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	endpoint := c.base + "/summary/" + url.PathEscape(modelNo)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Content) == "" {
		return "", fmt.Errorf("summary %s: empty content: %w", modelNo, ErrRemoteFetchFailed)
	}
	return out.Content, nil
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return c.chat(ctx, "/chat", req)
}

func (c *Client) Search(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return c.chat(ctx, "/chat/search", req)
}

func (c *Client) chat(ctx context.Context, path string, req ChatRequest) (ChatResponse, error) {
	var out ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, c.base+path, req, &out); err != nil {
		return ChatResponse{}, err
	}
	if out.Type == "" && out.Content == "" {
		return ChatResponse{}, fmt.Errorf("%s: empty reply: %w", path, ErrRemoteFetchFailed)
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, endpoint, err, ErrRemoteFetchFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s: %w", method, endpoint, resp.Status, strings.TrimSpace(string(b)), ErrRemoteFetchFailed)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %v: %w", endpoint, err, ErrRemoteFetchFailed)
	}
	return nil
}
