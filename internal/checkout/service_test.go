package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *memStore
	locker    *stubLocker
	publisher *stubPublisher
	metrics   *stubRecorder
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(),
		locker:    &stubLocker{},
		publisher: &stubPublisher{},
		metrics:   &stubRecorder{},
	}
	svc, err := NewService(Deps{
		Store:     f.store,
		Courier:   NewCourier(decimal.NewFromInt(5)),
		Locker:    f.locker,
		Publisher: f.publisher,
		Metrics:   f.metrics,
	})
	require.NoError(t, err)

	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	f.svc = svc
	return f
}

func validRequest(buyer string) Request {
	return Request{
		BuyerID:         buyer,
		DeliveryAddress: "7 Strand Street, Cape Town",
		Method:          MethodInstantEFT,
		Amount:          decimal.RequireFromString("100.00"),
	}
}

func TestCheckoutPlacesOrder(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct("X", "Product X", 5)
	f.store.addToCart("buyer-1", "X", 2, 5000)

	res, err := f.svc.Checkout(context.Background(), validRequest("buyer-1"))
	require.NoError(t, err)

	courier := toCents(decimal.NewFromFloat(Distance(Malmesbury, LatLng{-33.9249, 18.4241})).Mul(decimal.NewFromInt(5)).Round(2))
	assert.Equal(t, courier, res.CourierCents)
	assert.Equal(t, int64(10000)+courier, res.TotalCents)
	assert.Equal(t, MethodInstantEFT, res.Method)

	st := f.store.snapshot()
	assert.Equal(t, 3, st.products["X"].stock)
	assert.Empty(t, st.carts["buyer-1"])

	order := st.orders[res.OrderID]
	assert.Equal(t, res.TotalCents, order.TotalCents)
	assert.Equal(t, "7 Strand Street, Cape Town", order.DeliveryAddress)

	require.Len(t, st.lines, 1)
	assert.Equal(t, OrderLine{OrderID: res.OrderID, ProductID: "X", Quantity: 2, PriceCents: 5000}, st.lines[0])

	require.Len(t, st.payments, 1)
	p := st.payments[0]
	assert.Equal(t, res.PaymentID, p.ID)
	assert.Equal(t, PaymentPending, p.Status)
	assert.Equal(t, int64(10000), p.CartCents)
	assert.Equal(t, courier, p.CourierCents)
	assert.Equal(t, res.TotalCents, p.TotalCents)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, res.OrderID, f.publisher.events[0].OrderID)
	assert.Equal(t, []string{"success"}, f.metrics.outcomes)
	assert.Equal(t, 1, f.locker.released)
}

func TestCheckoutTotalMatchesLines(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct("a", "A", 10)
	f.store.addProduct("b", "B", 10)
	f.store.addProduct("c", "C", 10)
	f.store.addToCart("buyer", "a", 1, 1999)
	f.store.addToCart("buyer", "b", 3, 250)
	f.store.addToCart("buyer", "c", 10, 1)

	res, err := f.svc.Checkout(context.Background(), validRequest("buyer"))
	require.NoError(t, err)

	st := f.store.snapshot()
	var sum int64
	for _, l := range st.lines {
		sum += l.PriceCents * int64(l.Quantity)
	}
	assert.Equal(t, st.orders[res.OrderID].TotalCents, sum+st.orders[res.OrderID].CourierCents)
	assert.Equal(t, 0, st.products["c"].stock)
}

func TestCheckoutInsufficientStockChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct("Y", "Product Y", 2)
	f.store.addProduct("Z", "Product Z", 9)
	f.store.addToCart("buyer", "Y", 10, 100)
	f.store.addToCart("buyer", "Z", 1, 100)
	before := f.store.snapshot()

	_, err := f.svc.Checkout(context.Background(), validRequest("buyer"))
	require.Error(t, err)

	var fail *Failure
	require.True(t, errors.As(err, &fail))
	assert.Equal(t, KindInsufficientStock, fail.Kind)
	assert.True(t, fail.Recoverable())
	assert.Contains(t, fail.Message, "Product Y: only 2 available, 10 needed.")
	require.Len(t, fail.Shortfalls, 1)

	assert.Equal(t, before, f.store.snapshot())
	assert.Zero(t, f.store.commits)
	assert.Empty(t, f.publisher.events)
	assert.Equal(t, []string{"insufficient_stock"}, f.metrics.outcomes)
}

func TestCheckoutReportsAllShortfalls(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct("a", "Alpha", 0)
	f.store.addProduct("b", "Beta", 1)
	f.store.addToCart("buyer", "a", 1, 100)
	f.store.addToCart("buyer", "b", 2, 100)

	_, err := f.svc.Checkout(context.Background(), validRequest("buyer"))
	fail := AsFailure(err)
	require.Len(t, fail.Shortfalls, 2)
	assert.Contains(t, fail.Message, "Alpha: only 0 available, 1 needed.")
	assert.Contains(t, fail.Message, "Beta: only 1 available, 2 needed.")
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), validRequest("buyer"))
	fail := AsFailure(err)
	assert.Equal(t, KindEmptyCart, fail.Kind)
	assert.Equal(t, MsgEmptyCart, fail.Message)
	assert.Zero(t, f.store.commits)
}

func TestCheckoutValidation(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Request)
		msg  string
	}{
		{"bogus method", func(r *Request) { r.Method = "bogus" }, MsgInvalidMethod},
		{"blank address", func(r *Request) { r.DeliveryAddress = "   " }, MsgMissingAddress},
		{"zero amount", func(r *Request) { r.Amount = decimal.Zero }, MsgInvalidAmount},
		{"negative amount", func(r *Request) { r.Amount = decimal.NewFromInt(-1) }, MsgInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.addProduct("X", "X", 5)
			f.store.addToCart("buyer", "X", 1, 100)

			req := validRequest("buyer")
			tt.mod(&req)
			_, err := f.svc.Checkout(context.Background(), req)

			fail := AsFailure(err)
			assert.Equal(t, KindValidation, fail.Kind)
			assert.Equal(t, tt.msg, fail.Message)
			assert.Zero(t, f.store.commits, "no transaction for invalid input")
			assert.Zero(t, f.locker.released, "lock never taken")
		})
	}
}

func TestCheckoutRollsBackOnInfrastructureError(t *testing.T) {
	for _, op := range []string{"LockCart", "InsertOrder", "InsertOrderLine", "DecrementStock", "InsertPayment", "ClearCart"} {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t)
			f.store.addProduct("X", "X", 5)
			f.store.addToCart("buyer", "X", 2, 100)
			f.store.failOn = op
			before := f.store.snapshot()

			_, err := f.svc.Checkout(context.Background(), validRequest("buyer"))
			fail := AsFailure(err)
			assert.Equal(t, KindInternal, fail.Kind)
			assert.Equal(t, MsgGeneric, fail.Message)
			assert.ErrorIs(t, err, errInjected)
			assert.False(t, fail.Recoverable())
			assert.Equal(t, before, f.store.snapshot())
			assert.Equal(t, 1, f.locker.released)
		})
	}
}

func TestCheckoutRejectsConcurrentSubmit(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct("X", "X", 5)
	f.store.addToCart("buyer", "X", 1, 100)
	f.locker.held = map[string]bool{"buyer": true}

	_, err := f.svc.Checkout(context.Background(), validRequest("buyer"))
	assert.Equal(t, KindInProgress, AsFailure(err).Kind)
	assert.Zero(t, f.store.commits)
}

func TestCheckoutResubmitAfterSuccessFindsEmptyCart(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct("X", "X", 5)
	f.store.addToCart("buyer", "X", 1, 100)

	_, err := f.svc.Checkout(context.Background(), validRequest("buyer"))
	require.NoError(t, err)
	_, err = f.svc.Checkout(context.Background(), validRequest("buyer"))
	assert.Equal(t, KindEmptyCart, AsFailure(err).Kind)
	assert.Len(t, f.store.snapshot().orders, 1)
}

func TestCheckoutProceedsWhenLockerUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct("X", "X", 5)
	f.store.addToCart("buyer", "X", 1, 100)
	f.locker.err = errors.New("redis down")

	_, err := f.svc.Checkout(context.Background(), validRequest("buyer"))
	require.NoError(t, err)
}

func TestCheckoutPublishFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct("X", "X", 5)
	f.store.addToCart("buyer", "X", 1, 100)
	f.publisher.err = errors.New("broker gone")

	res, err := f.svc.Checkout(context.Background(), validRequest("buyer"))
	require.NoError(t, err)
	assert.Contains(t, f.store.snapshot().orders, res.OrderID)
}

func TestCheckoutServerSubtotalWins(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct("X", "X", 5)
	f.store.addToCart("buyer", "X", 1, 2500)

	req := validRequest("buyer")
	req.DeliveryAddress = "Malmesbury"
	req.Amount = decimal.RequireFromString("1.00")
	res, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), res.TotalCents)
}

func TestCancelClearsCart(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct("X", "X", 5)
	f.store.addToCart("buyer", "X", 2, 100)

	require.NoError(t, f.svc.Cancel(context.Background(), "buyer"))
	st := f.store.snapshot()
	assert.Empty(t, st.carts["buyer"])
	assert.Equal(t, 5, st.products["X"].stock)
	assert.Empty(t, st.orders)
}

func TestCancelEmptyCartIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Cancel(context.Background(), "buyer"))
	require.NoError(t, f.svc.Cancel(context.Background(), "buyer"))
}

func TestCancelInfrastructureError(t *testing.T) {
	f := newFixture(t)
	f.store.addToCart("buyer", "X", 2, 100)
	f.store.failOn = "ClearCart"

	err := f.svc.Cancel(context.Background(), "buyer")
	assert.Equal(t, KindInternal, AsFailure(err).Kind)
	assert.Len(t, f.store.snapshot().carts["buyer"], 1)
}

func TestOrderIsScopedToBuyer(t *testing.T) {
	f := newFixture(t)
	f.store.addProduct("X", "X", 5)
	f.store.addToCart("buyer", "X", 1, 100)
	res, err := f.svc.Checkout(context.Background(), validRequest("buyer"))
	require.NoError(t, err)

	v, err := f.svc.Order(context.Background(), "buyer", res.OrderID)
	require.NoError(t, err)
	require.NotNil(t, v.Payment)
	assert.Equal(t, PaymentPending, v.Payment.Status)
	assert.Len(t, v.Lines, 1)

	_, err = f.svc.Order(context.Background(), "someone-else", res.OrderID)
	assert.Equal(t, KindNotFound, AsFailure(err).Kind)

	_, err = f.svc.Order(context.Background(), "buyer", "missing")
	assert.Equal(t, KindNotFound, AsFailure(err).Kind)
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(Deps{})
	assert.Error(t, err)
}

func TestQuoteAddsCourierToSubtotal(t *testing.T) {
	f := newFixture(t)

	courier, total := f.svc.Quote("Malmesbury main road", decimal.RequireFromString("100.00"))
	assert.True(t, courier.IsZero())
	assert.True(t, decimal.NewFromInt(100).Equal(total))

	courier, total = f.svc.Quote("Paarl", decimal.RequireFromString("100.00"))
	assert.True(t, courier.IsPositive())
	assert.True(t, total.Equal(courier.Add(decimal.NewFromInt(100))))
}
