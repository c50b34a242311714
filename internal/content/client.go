package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var _ Store = (*Client)(nil)

// Client talks to the catalog service over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type sectionsResponse struct {
	Items []Section `json:"items"`
}

type itemsResponse struct {
	Items []Item `json:"items"`
}

type verifyRequest struct {
	Password string `json:"password"`
}

func (c *Client) FetchSections(ctx context.Context) ([]Section, error) {
	var resp sectionsResponse
	if err := c.getJSON(ctx, "/api/sections", &resp); err != nil {
		return nil, fmt.Errorf("fetch sections: %w", err)
	}
	return resp.Items, nil
}

func (c *Client) FetchAssignedContentItems(ctx context.Context) ([]Item, error) {
	var resp itemsResponse
	if err := c.getJSON(ctx, "/api/items", &resp); err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}
	return resp.Items, nil
}

func (c *Client) ValidateSectionPassword(ctx context.Context, sectionID, candidate string) (Validation, error) {
	return c.verify(ctx, "/api/sections/"+url.PathEscape(sectionID)+"/verify", candidate)
}

func (c *Client) ValidateVideoPassword(ctx context.Context, itemID, candidate string) (Validation, error) {
	return c.verify(ctx, "/api/items/"+url.PathEscape(itemID)+"/verify", candidate)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// verify treats 200 and 403 as answers; both carry a Validation body.
func (c *Client) verify(ctx context.Context, path, candidate string) (Validation, error) {
	body, err := json.Marshal(verifyRequest{Password: candidate})
	if err != nil {
		return Validation{}, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Validation{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Validation{}, fmt.Errorf("send verify request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusForbidden:
	case http.StatusNotFound:
		return Validation{}, ErrNotFound
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Validation{}, fmt.Errorf("verify returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var v Validation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Validation{}, fmt.Errorf("decode verify response: %w", err)
	}
	return v, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
