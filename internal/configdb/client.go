package configdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var errNoResults = errors.New("configdb returned no results")

// Client fetches the sites document from a ConfigDB server.
type Client struct {
	baseURL    string
	http       *http.Client
	tries      uint
	newBackOff func() backoff.BackOff
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tries:   3,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// WithRetry sets the attempt count and delay schedule of Sites.
func (c *Client) WithRetry(tries uint, newBackOff func() backoff.BackOff) *Client {
	c.tries = max(tries, 1)
	c.newBackOff = newBackOff
	return c
}

// Sites returns every site with its enclosures, telescopes and instruments.
func (c *Client) Sites(ctx context.Context) ([]Site, error) {
	return backoff.Retry(ctx, func() ([]Site, error) {
		sites, err := c.fetchSites(ctx)
		if errors.Is(err, errNoResults) {
			return nil, backoff.Permanent(err)
		}
		return sites, err
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.tries))
}

func (c *Client) fetchSites(ctx context.Context) ([]Site, error) {
	url := c.baseURL + "sites/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build configdb request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("get %s: status %d", url, resp.StatusCode)
		if resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var body struct {
		Results *[]Site `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode sites: %w", err)
	}
	if body.Results == nil {
		return nil, errNoResults
	}
	return *body.Results, nil
}
