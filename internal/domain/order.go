package domain

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks an order's lifecycle at the venue.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further fills can happen on the order.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OrderRequest is a limit buy/sell submitted through the exchange gateway.
type OrderRequest struct {
	TokenID    string
	Side       OrderSide
	PriceTicks int64
	SizeUnits  int64
}

// OrderState is the venue-reported state of a placed order.
type OrderState struct {
	Status           OrderStatus
	FilledSizeUnits  int64
	FilledPriceTicks int64 // average fill price; 0 until first fill
}
