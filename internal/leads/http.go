package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/money"
)

// HTTPClient reads leads from the leads service at GET {base}/leads/{id}.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type leadResponse struct {
	ID       string      `json:"id"`
	Category string      `json:"category"`
	Value    money.Money `json:"value"`
}

func (c *HTTPClient) GetLead(ctx context.Context, leadID string) (domain.Lead, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/leads/"+url.PathEscape(leadID), nil)
	if err != nil {
		return domain.Lead{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("leads service unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Lead{}, domain.NotFoundf("lead %s", leadID)
	case resp.StatusCode != http.StatusOK:
		return domain.Lead{}, fmt.Errorf("leads service returned %d", resp.StatusCode)
	}

	var body leadResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Lead{}, fmt.Errorf("malformed lead response: %w", err)
	}
	if body.ID == "" {
		body.ID = leadID
	}
	return domain.Lead{ID: body.ID, Category: body.Category, Value: body.Value}, nil
}
