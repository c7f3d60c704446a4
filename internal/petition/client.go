package petition

import (
	"context"
	"fmt"
	"strings"

	"github.com/satindergrewal/nyanrace/internal/fetch"
)

// Client reads signature counts from the petitions API.
type Client struct {
	apiURL   string
	attempts int
	fetcher  *fetch.Fetcher
}

// NewClient creates a petitions API client.
func NewClient(apiURL string, fetcher *fetch.Fetcher, attempts int) *Client {
	return &Client{
		apiURL:   strings.TrimRight(apiURL, "/"),
		attempts: attempts,
		fetcher:  fetcher,
	}
}

// CountURL returns the count endpoint for a petition.
func (c *Client) CountURL(id string) string {
	return c.apiURL + "/" + id + "/count.json"
}

// Count fetches and parses the current signature count for a petition.
func (c *Client) Count(ctx context.Context, id string) (int64, error) {
	resp, err := c.fetcher.Fetch(ctx, c.CountURL(id), c.attempts)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	count, err := ParseCount(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("petition %s: %w", id, err)
	}
	return count, nil
}
