package broker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSim(fillDelay time.Duration) *SimBroker {
	return NewSim(SimConfig{
		FillDelay:      fillDelay,
		SlippageBpsMin: 0,
		SlippageBpsMax: 0,
		Prices:         map[string]float64{"EURUSD": 1.1000},
	})
}

func TestSimOrderFillsAfterDelay(t *testing.T) {
	b := newTestSim(10 * time.Millisecond)
	ctx := context.Background()

	ack, err := b.SubmitOrder(ctx, "EURUSD", decimal.NewFromInt(1000), "market")
	require.NoError(t, err)
	assert.Equal(t, OrderPending, ack.State)

	st, err := b.GetOrderStatus(ctx, ack.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderPending, st.State, "order still pending before the fill delay")

	time.Sleep(15 * time.Millisecond)
	st, err = b.GetOrderStatus(ctx, ack.OrderID)
	require.NoError(t, err)
	require.Equal(t, OrderFilled, st.State)
	// Zero slippage configured: fill at the reference price.
	assert.True(t, st.FillPrice.Equal(decimal.NewFromFloat(1.1000)), "fill = %s", st.FillPrice)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "EURUSD", positions[0].Symbol)
	assert.True(t, positions[0].Size.Equal(decimal.NewFromInt(1000)))
}

func TestSimCancelBeforeFill(t *testing.T) {
	b := newTestSim(time.Minute)
	ctx := context.Background()

	ack, err := b.SubmitOrder(ctx, "EURUSD", decimal.NewFromInt(1000), "market")
	require.NoError(t, err)

	cancelled, err := b.CancelOrder(ctx, ack.OrderID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	st, err := b.GetOrderStatus(ctx, ack.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderCancelled, st.State)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions, "cancelled orders never open positions")
}

func TestSimCancelLosesRaceToFill(t *testing.T) {
	b := newTestSim(time.Nanosecond)
	ctx := context.Background()

	ack, err := b.SubmitOrder(ctx, "EURUSD", decimal.NewFromInt(1000), "market")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	cancelled, err := b.CancelOrder(ctx, ack.OrderID)
	require.NoError(t, err)
	assert.False(t, cancelled, "fill already happened; cancel must report the race")

	st, err := b.GetOrderStatus(ctx, ack.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, st.State)
}

func TestSimProtectiveOrders(t *testing.T) {
	b := newTestSim(time.Nanosecond)
	ctx := context.Background()

	ack, err := b.SubmitOrder(ctx, "EURUSD", decimal.NewFromInt(1000), "market")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	st, err := b.GetOrderStatus(ctx, ack.OrderID)
	require.NoError(t, err)
	require.Equal(t, OrderFilled, st.State)

	_, err = b.GetOrderStatus(ctx, "") // unknown id
	assert.Error(t, err)

	sl := decimal.NewFromFloat(1.0945)
	tp := decimal.NewFromFloat(1.1110)
	require.NoError(t, b.SetProtectiveOrders(ctx, "EURUSD", sl, tp))

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.NotNil(t, positions[0].SL)
	require.NotNil(t, positions[0].TP)
	assert.True(t, positions[0].SL.Equal(sl))
	assert.True(t, positions[0].TP.Equal(tp))
}

func TestSimUnknownSymbolRejected(t *testing.T) {
	b := newTestSim(time.Minute)
	ack, err := b.SubmitOrder(context.Background(), "XXXYYY", decimal.NewFromInt(1), "market")
	require.Error(t, err)
	assert.Equal(t, OrderRejected, ack.State)
}

func TestSimDisconnected(t *testing.T) {
	b := NewSim(SimConfig{Disconnected: true, Prices: map[string]float64{"EURUSD": 1.1}})
	assert.False(t, b.IsConnected(context.Background()))
	_, err := b.SubmitOrder(context.Background(), "EURUSD", decimal.NewFromInt(1), "market")
	require.Error(t, err)
}
