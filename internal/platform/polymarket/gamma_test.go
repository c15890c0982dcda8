package polymarket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func gammaMarket(id string, closed bool, winnerYes bool) map[string]any {
	tokens := []map[string]any{
		{"token_id": id + "-yes", "outcome": "Yes", "winner": closed && winnerYes},
		{"token_id": id + "-no", "outcome": "No", "winner": closed && !winnerYes},
	}
	return map[string]any{
		"id":                id,
		"question":          "q " + id,
		"active":            !closed,
		"closed":            closed,
		"accepting_orders":  !closed,
		"enable_order_book": true,
		"tokens":            tokens,
	}
}

func TestListActiveMarketsPagination(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		var page []map[string]any
		if offset == 0 {
			// A full first page forces a second request.
			for i := 0; i < discoverPageSize; i++ {
				page = append(page, gammaMarket("mkt-"+strconv.Itoa(i), false, false))
			}
		} else {
			page = append(page, gammaMarket("mkt-last", false, false))
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	markets, err := g.ListActiveMarkets(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, markets, discoverPageSize+1)
	assert.Equal(t, 2, requests)
}

func TestListActiveMarketsHonorsCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var page []map[string]any
		for i := 0; i < discoverPageSize; i++ {
			page = append(page, gammaMarket("mkt-"+strconv.Itoa(i), false, false))
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	markets, err := g.ListActiveMarkets(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, markets, 10)
}

func TestMarketResolution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/resolved":
			_ = json.NewEncoder(w).Encode(gammaMarket("resolved", true, true))
		case "/markets/open":
			_ = json.NewEncoder(w).Encode(gammaMarket("open", false, false))
		case "/markets/settling":
			m := gammaMarket("settling", true, false)
			// Closed but no token flagged as winner yet.
			m["tokens"] = []map[string]any{
				{"token_id": "settling-yes", "outcome": "Yes"},
				{"token_id": "settling-no", "outcome": "No"},
			}
			_ = json.NewEncoder(w).Encode(m)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	ctx := context.Background()

	res, err := g.MarketResolution(ctx, "resolved")
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, "resolved-yes", res.WinnerTokenID)

	res, err = g.MarketResolution(ctx, "open")
	require.NoError(t, err)
	assert.False(t, res.Resolved)

	res, err = g.MarketResolution(ctx, "settling")
	require.NoError(t, err)
	assert.False(t, res.Resolved)

	_, err = g.MarketResolution(ctx, "missing")
	assert.Error(t, err)
}
