package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// SimConfig shapes the simulated broker's behavior.
type SimConfig struct {
	FillDelay      time.Duration // how long orders stay pending
	SlippageBpsMin int           // fill slippage range, basis points
	SlippageBpsMax int
	Prices         map[string]float64 // symbol -> reference price
	Disconnected   bool
}

type simOrder struct {
	symbol      string
	qty         decimal.Decimal
	state       OrderState
	submittedAt time.Time
	fillPrice   decimal.Decimal
}

// SimBroker is a deterministic-enough broker for paper mode and tests:
// orders fill after a fixed delay with bounded random slippage. All state
// under one mutex; a token-bucket limiter imitates venue rate limits.
type SimBroker struct {
	mu        sync.Mutex
	cfg       SimConfig
	orders    map[string]*simOrder
	positions map[string]*Position
	limiter   *rate.Limiter
	random    *rand.Rand
	now       func() time.Time
}

func NewSim(cfg SimConfig) *SimBroker {
	if cfg.FillDelay == 0 {
		cfg.FillDelay = 750 * time.Millisecond
	}
	if cfg.SlippageBpsMax == 0 {
		cfg.SlippageBpsMax = 5
	}
	return &SimBroker{
		cfg:       cfg,
		orders:    make(map[string]*simOrder),
		positions: make(map[string]*Position),
		limiter:   rate.NewLimiter(rate.Limit(50), 10),
		random:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
}

func (b *SimBroker) SubmitOrder(ctx context.Context, symbol string, qty decimal.Decimal, orderType string) (OrderAck, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return OrderAck{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.Disconnected {
		return OrderAck{}, fmt.Errorf("sim broker disconnected")
	}
	base, ok := b.cfg.Prices[symbol]
	if !ok {
		return OrderAck{State: OrderRejected}, fmt.Errorf("sim broker: unknown symbol %s", symbol)
	}

	slippageBps := b.cfg.SlippageBpsMin
	if spread := b.cfg.SlippageBpsMax - b.cfg.SlippageBpsMin; spread > 0 {
		slippageBps += b.random.Intn(spread + 1)
	}
	fill := decimal.NewFromFloat(base).
		Mul(decimal.NewFromInt(10000 + int64(slippageBps))).
		Div(decimal.NewFromInt(10000))

	id := uuid.NewString()
	b.orders[id] = &simOrder{
		symbol:      symbol,
		qty:         qty,
		state:       OrderPending,
		submittedAt: b.now(),
		fillPrice:   fill,
	}
	return OrderAck{OrderID: id, State: OrderPending}, nil
}

func (b *SimBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return false, fmt.Errorf("sim broker: unknown order %s", orderID)
	}
	b.settleLocked(o)
	if o.state == OrderFilled {
		// Cancel lost the race against the fill.
		return false, nil
	}
	o.state = OrderCancelled
	return true, nil
}

func (b *SimBroker) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return OrderStatus{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("sim broker: unknown order %s", orderID)
	}
	b.settleLocked(o)
	st := OrderStatus{State: o.state}
	if o.state == OrderFilled {
		st.FillPrice = o.fillPrice
		st.FilledQty = o.qty
	}
	return st, nil
}

func (b *SimBroker) SetProtectiveOrders(ctx context.Context, symbol string, sl, tp decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[symbol]
	if !ok {
		return fmt.Errorf("sim broker: no open position for %s", symbol)
	}
	slCopy, tpCopy := sl, tp
	p.SL = &slCopy
	p.TP = &tpCopy
	return nil
}

func (b *SimBroker) GetPositions(ctx context.Context) ([]Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (b *SimBroker) IsConnected(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.cfg.Disconnected
}

// settleLocked lazily transitions pending orders whose fill delay elapsed.
func (b *SimBroker) settleLocked(o *simOrder) {
	if o.state != OrderPending {
		return
	}
	if b.now().Sub(o.submittedAt) < b.cfg.FillDelay {
		return
	}
	o.state = OrderFilled
	b.positions[o.symbol] = &Position{
		Symbol:     o.symbol,
		Size:       o.qty,
		EntryPrice: o.fillPrice,
	}
}
