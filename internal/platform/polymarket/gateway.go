package polymarket

import (
	"context"

	"github.com/alanyoungcy/karb/internal/domain"
)

// Gateway bundles the CLOB, Gamma, and WebSocket clients behind the
// domain.ExchangeGateway interface.
type Gateway struct {
	clob       *ClobClient
	gamma      *GammaClient
	ws         *WSClient
	maxMarkets int
}

var _ domain.ExchangeGateway = (*Gateway)(nil)

// NewGateway assembles the gateway. maxMarkets bounds discovery; zero means
// unbounded.
func NewGateway(clob *ClobClient, gamma *GammaClient, ws *WSClient, maxMarkets int) *Gateway {
	return &Gateway{clob: clob, gamma: gamma, ws: ws, maxMarkets: maxMarkets}
}

func (g *Gateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	return g.clob.PlaceOrder(ctx, req)
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.clob.CancelOrder(ctx, orderID)
}

func (g *Gateway) OrderStatus(ctx context.Context, orderID string) (domain.OrderState, error) {
	return g.clob.OrderStatus(ctx, orderID)
}

func (g *Gateway) StreamBookUpdates(ctx context.Context, tokenIDs []string, out chan<- domain.BookUpdate) error {
	return g.ws.Stream(ctx, tokenIDs, out)
}

func (g *Gateway) FetchBook(ctx context.Context, tokenID string) (domain.BookSnapshot, error) {
	return g.clob.FetchBook(ctx, tokenID)
}

func (g *Gateway) ListActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	return g.gamma.ListActiveMarkets(ctx, g.maxMarkets)
}

func (g *Gateway) MarketResolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	return g.gamma.MarketResolution(ctx, marketID)
}
