package broker

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderState mirrors the broker's view of an order.
type OrderState string

const (
	OrderPending   OrderState = "pending"
	OrderFilled    OrderState = "filled"
	OrderCancelled OrderState = "cancelled"
	OrderRejected  OrderState = "rejected"
)

// OrderAck is the broker's response to a submission.
type OrderAck struct {
	OrderID string
	State   OrderState
}

// OrderStatus is a point-in-time order query result.
type OrderStatus struct {
	State     OrderState
	FillPrice decimal.Decimal
	FilledQty decimal.Decimal
}

// Position is an open broker position. SL/TP are nil when no protective
// orders are attached.
type Position struct {
	Symbol     string
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	SL         *decimal.Decimal
	TP         *decimal.Decimal
}

// Adapter is the externally-implemented broker capability surface. All
// methods are expected to be timeout-guarded by the caller's context;
// adapters may be rate limited.
type Adapter interface {
	SubmitOrder(ctx context.Context, symbol string, qty decimal.Decimal, orderType string) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	// SetProtectiveOrders attaches SL/TP to the open position for symbol.
	// Called after a confirmed fill, with levels derived from the fill price.
	SetProtectiveOrders(ctx context.Context, symbol string, sl, tp decimal.Decimal) error
	GetPositions(ctx context.Context) ([]Position, error)
	IsConnected(ctx context.Context) bool
}
