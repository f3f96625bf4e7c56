package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/orgsite/orgsite/internal/access"
)

// SourceName is the name the client reports to the resolver.
const SourceName = "authority"

// Client asks the remote authority for a principal's role record.
type Client struct {
	baseURL    string
	issuer     *Issuer
	httpClient *http.Client
	group      singleflight.Group
}

// NewClient constructs a Client. A nil httpClient gets a 10s timeout client.
func NewClient(baseURL string, issuer *Issuer, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		issuer:     issuer,
		httpClient: httpClient,
	}
}

// Name implements access.Source.
func (c *Client) Name() string {
	return SourceName
}

// Lookup implements access.Source. Concurrent lookups of one principal share a call.
func (c *Client) Lookup(ctx context.Context, principalID string) (access.Record, error) {
	resultChan := c.group.DoChan(principalID, func() (any, error) {
		return c.verify(ctx, principalID)
	})
	select {
	case <-ctx.Done():
		return access.Record{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return access.Record{}, res.Err
		}
		return res.Val.(access.Record), nil
	}
}

func (c *Client) verify(ctx context.Context, principalID string) (access.Record, error) {
	assertion, err := c.issuer.Mint(principalID)
	if err != nil {
		return access.Record{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/verify", c.baseURL), http.NoBody)
	if err != nil {
		return access.Record{}, err
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return access.Record{}, fmt.Errorf("authority: request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return access.Record{}, access.ErrRecordNotFound
	case resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return access.Record{}, fmt.Errorf("authority: verify returned status %d", resp.StatusCode)
	}
	var record access.Record
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&record); err != nil {
		return access.Record{}, fmt.Errorf("authority: decode record: %w", err)
	}
	return record, nil
}

var _ access.Source = (*Client)(nil)
