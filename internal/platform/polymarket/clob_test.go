package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/karb/internal/crypto"
	"github.com/alanyoungcy/karb/internal/domain"
)

func TestFetchBookWithoutSigner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok-1", r.URL.Query().Get("token_id"))
		// Public endpoint: no L2 headers attached.
		assert.Empty(t, r.Header.Get("POLY_ADDRESS"))
		assert.Empty(t, r.Header.Get("POLY_SIGNATURE"))
		_ = json.NewEncoder(w).Encode(apiBook{
			AssetID:   "tok-1",
			Bids:      []apiPriceLevel{{Price: "0.45", Size: "10"}},
			Asks:      []apiPriceLevel{{Price: "0.48", Size: "100"}},
			Timestamp: "1700000000123",
		})
	}))
	defer srv.Close()

	// Read-only modes build the client with no signer and no creds.
	c := NewClobClient(srv.URL, nil, crypto.APICreds{}, "", 8)
	snap, err := c.FetchBook(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, int64(480_000), snap.AskTicks)
	assert.Equal(t, 100*domain.UnitsPerShare, snap.AskSizeUnits)
	assert.Equal(t, int64(450_000), snap.BidTicks)
	assert.Equal(t, uint64(1700000000123), snap.Seq)
}

func TestFetchBookNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no orderbook exists", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, nil, crypto.APICreds{}, "", 8)
	_, err := c.FetchBook(context.Background(), "tok-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
