package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/karb/internal/domain"
)

// GammaClient reads market metadata from the Gamma API: discovery of
// tradable markets and resolution outcomes. All endpoints are public.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a Gamma API client for the given root, e.g.
// "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

const discoverPageSize = 100

// ListActiveMarkets pages through the markets endpoint and returns every
// active binary market with an enabled order book, up to maxMarkets.
func (g *GammaClient) ListActiveMarkets(ctx context.Context, maxMarkets int) ([]domain.Market, error) {
	var out []domain.Market
	for offset := 0; ; offset += discoverPageSize {
		params := url.Values{}
		params.Set("active", "true")
		params.Set("closed", "false")
		params.Set("limit", strconv.Itoa(discoverPageSize))
		params.Set("offset", strconv.Itoa(offset))

		body, err := g.doGet(ctx, "/markets?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
		}
		var page []apiMarket
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
		}
		for i := range page {
			m, ok := page[i].toDomain()
			if !ok || !page[i].EnableOrderBook || !m.Active() {
				continue
			}
			out = append(out, m)
			if maxMarkets > 0 && len(out) >= maxMarkets {
				return out, nil
			}
		}
		if len(page) < discoverPageSize {
			return out, nil
		}
	}
}

// GetMarket returns one market by id.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}
	var m apiMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	dm, ok := m.toDomain()
	if !ok {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s: %w", id, domain.ErrNotFound)
	}
	return dm, nil
}

// MarketResolution reports whether a market has resolved and which token
// won.
func (g *GammaClient) MarketResolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(marketID))
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("polymarket/gamma: resolution %s: %w", marketID, err)
	}
	var m apiMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.Resolution{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	res := domain.Resolution{Resolved: m.Closed}
	for _, tok := range m.Tokens {
		if tok.Winner {
			res.WinnerTokenID = tok.TokenID
			break
		}
	}
	// Closed without a winner yet means the market is settling; report
	// unresolved so the sweep retries later.
	if res.Resolved && res.WinnerTokenID == "" {
		res.Resolved = false
	}
	return res, nil
}

func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
