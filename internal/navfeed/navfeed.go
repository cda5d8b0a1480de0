// Package navfeed fetches the fund's NAV for scheduled strikes.
package navfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"nav-strike-engine/internal/domain"
)

// Source provides the NAV to fix at a scheduled strike.
type Source interface {
	FetchNAV(ctx context.Context, fundID string) (Quote, error)
}

// Quote is one NAV observation.
type Quote struct {
	FundID string          `json:"fund_id"`
	NAV    decimal.Decimal `json:"nav"`
	AsOf   time.Time       `json:"as_of"`
}

// HTTPSource fetches NAV quotes from a REST endpoint:
// GET {base}/api/v1/nav?fund={id} -> {"fund_id": ..., "nav": "1.02", "as_of": ...}
type HTTPSource struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPSource creates a source with the given request timeout.
func NewHTTPSource(baseURL, apiKey string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

// FetchNAV returns the latest quote. A non-positive NAV is a validation error.
func (s *HTTPSource) FetchNAV(ctx context.Context, fundID string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/api/v1/nav?fund=%s", s.BaseURL, url.QueryEscape(fundID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build nav request: %w", err)
	}
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch nav: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("fetch nav: status %d, body: %s", resp.StatusCode, string(body))
	}

	var q Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return Quote{}, fmt.Errorf("decode nav: %w", err)
	}
	if q.FundID != "" && q.FundID != fundID {
		return Quote{}, fmt.Errorf("fetch nav: quote is for fund %q, want %q", q.FundID, fundID)
	}
	if !q.NAV.IsPositive() {
		return Quote{}, domain.NewValidationError("nav feed returned non-positive NAV %s", q.NAV)
	}
	q.FundID = fundID
	return q, nil
}

// Static always returns the same NAV. Used when no feed is configured.
type Static struct {
	NAV   decimal.Decimal
	Clock func() time.Time
}

// FetchNAV returns the fixed NAV.
func (s Static) FetchNAV(_ context.Context, fundID string) (Quote, error) {
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	return Quote{FundID: fundID, NAV: s.NAV, AsOf: now()}, nil
}
