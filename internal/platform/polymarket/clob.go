// Package polymarket implements the exchange gateway against the Polymarket
// CLOB, Gamma, and market WebSocket APIs.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/karb/internal/crypto"
	"github.com/alanyoungcy/karb/internal/domain"
)

// zeroAddress is the public taker for open orders.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// ClobClient talks to the CLOB REST API: order placement, cancellation,
// status, and book snapshots. All calls pass through a shared rate limiter
// so a busy scheduler cannot trip the venue's request caps.
type ClobClient struct {
	baseURL          string
	httpClient       *http.Client
	limiter          *rate.Limiter
	signer           *crypto.Signer
	creds            crypto.APICreds
	exchangeContract string
}

// NewClobClient creates a CLOB client. creds may be zero; call DeriveCreds
// before any authenticated request.
func NewClobClient(baseURL string, signer *crypto.Signer, creds crypto.APICreds, exchangeContract string, requestsPerSecond float64) *ClobClient {
	return &ClobClient{
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       &http.Client{Timeout: 15 * time.Second},
		limiter:          rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
		signer:           signer,
		creds:            creds,
		exchangeContract: exchangeContract,
	}
}

// DeriveCreds runs the L1 auth handshake to obtain HMAC credentials when
// none were configured.
func (c *ClobClient) DeriveCreds(ctx context.Context) error {
	if c.creds.Configured() {
		return nil
	}
	ts := time.Now().Unix()
	sig, err := c.signer.SignAuth(ts, 0)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(ts, 10))
	req.Header.Set("POLY_NONCE", "0")

	body, err := c.send(ctx, req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: derive creds: %w", err)
	}
	var resp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("polymarket/clob: decode creds: %w", err)
	}
	c.creds = crypto.APICreds{Key: resp.APIKey, Secret: resp.Secret, Passphrase: resp.Passphrase}
	return nil
}

// PlaceOrder signs and submits a GTC limit order, returning the venue order
// id.
func (c *ClobClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	signed, err := c.buildOrder(req)
	if err != nil {
		return "", err
	}
	payload := map[string]any{
		"order":     signed,
		"owner":     c.creds.Key,
		"orderType": "GTC",
	}
	body, err := c.doAuthed(ctx, http.MethodPost, "/order", payload)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: place order: %w", err)
	}
	var result apiOrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success {
		if strings.Contains(strings.ToLower(result.ErrorMsg), "balance") {
			return "", fmt.Errorf("polymarket/clob: %w: %s", domain.ErrInsufficientBalance, result.ErrorMsg)
		}
		return "", fmt.Errorf("polymarket/clob: %w: %s", domain.ErrVenueRejected, result.ErrorMsg)
	}
	return result.OrderID, nil
}

// buildOrder translates the fixed-point request into signed EIP-712 order
// amounts. At the venue's 6-decimal scale a buy's maker amount is the cost
// in ticks and its taker amount the size in units, so no rescaling happens.
func (c *ClobClient) buildOrder(req domain.OrderRequest) (crypto.SignedOrder, error) {
	maker := domain.Notional(req.PriceTicks, req.SizeUnits)
	taker := req.SizeUnits
	side := 0
	if req.Side == domain.OrderSideSell {
		maker, taker = taker, maker
		side = 1
	}
	addr := c.signer.Address().Hex()
	order := crypto.SignedOrder{
		Salt:        strconv.FormatInt(rand.Int63(), 10),
		Maker:       addr,
		Signer:      addr,
		Taker:       zeroAddress,
		TokenID:     req.TokenID,
		MakerAmount: strconv.FormatInt(maker, 10),
		TakerAmount: strconv.FormatInt(taker, 10),
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
		Side:        side,
	}
	signed, err := c.signer.SignOrder(order, c.exchangeContract)
	if err != nil {
		return signed, fmt.Errorf("polymarket/clob: sign order: %w", err)
	}
	return signed, nil
}

// CancelOrder cancels one order. A cancel landing after the fill reports
// domain.ErrAlreadyFilled.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body, err := c.doAuthed(ctx, http.MethodDelete, "/order", map[string]any{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel %s: %w", orderID, err)
	}
	var result struct {
		Canceled    []string          `json:"canceled"`
		NotCanceled map[string]string `json:"not_canceled"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if reason, failed := result.NotCanceled[orderID]; failed {
		if strings.Contains(strings.ToLower(reason), "filled") || strings.Contains(strings.ToLower(reason), "matched") {
			return domain.ErrAlreadyFilled
		}
		return fmt.Errorf("polymarket/clob: cancel %s refused: %s", orderID, reason)
	}
	return nil
}

// OrderStatus fetches the current fill state of an order.
func (c *ClobClient) OrderStatus(ctx context.Context, orderID string) (domain.OrderState, error) {
	body, err := c.doAuthed(ctx, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("polymarket/clob: order status %s: %w", orderID, err)
	}
	var order apiOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return domain.OrderState{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	st, err := order.toState()
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("polymarket/clob: order %s: %w", orderID, err)
	}
	return st, nil
}

// FetchBook returns a one-shot book snapshot for a token. The book endpoint
// is public, so read-only modes work without a signer or credentials.
func (c *ClobClient) FetchBook(ctx context.Context, tokenID string) (domain.BookSnapshot, error) {
	body, err := c.doPublic(ctx, "/book?token_id="+url.QueryEscape(tokenID))
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("polymarket/clob: fetch book: %w", err)
	}
	var book apiBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	u, err := bookUpdate(tokenID, book.Bids, book.Asks, book.Timestamp)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("polymarket/clob: book levels: %w", err)
	}
	return u.Snapshot(), nil
}

// doPublic issues an unauthenticated GET against an endpoint that requires
// no L2 headers.
func (c *ClobClient) doPublic(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.send(ctx, req)
}

func (c *ClobClient) doAuthed(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	var bodyStr string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyStr = string(data)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Signatures cover the path without query parameters.
	sigPath := path
	if i := strings.IndexByte(sigPath, '?'); i >= 0 {
		sigPath = sigPath[:i]
	}
	for k, v := range c.creds.Headers(c.signer.Address().Hex(), method, sigPath, bodyStr) {
		req.Header.Set(k, v)
	}
	return c.send(ctx, req)
}

func (c *ClobClient) send(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
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

// checkStatus maps non-2xx responses onto the gateway's sentinel errors.
func checkStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	msg := string(body)
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrVenueRejected, code, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", code, msg)
	}
}
