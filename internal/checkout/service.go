package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/quickbuy/internal/logger"
)

// Locker guards one buyer against concurrent checkout submissions.
type Locker interface {
	Acquire(ctx context.Context, buyerID string) (release func(), ok bool, err error)
}

type Recorder interface {
	ObserveCheckout(outcome string, d time.Duration)
}

type Deps struct {
	Store     Store
	Courier   Courier
	Locker    Locker    // optional
	Publisher Publisher // optional
	Metrics   Recorder  // optional
	Log       *logger.Logger
}

type Service struct {
	store   Store
	courier Courier
	lock    Locker
	events  Publisher
	metrics Recorder
	log     *logger.Logger

	newID func() string
	now   func() time.Time
}

func NewService(d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, fmt.Errorf("checkout store required")
	}
	if d.Courier.RatePerKM.IsNegative() {
		return nil, fmt.Errorf("courier rate must not be negative")
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return &Service{
		store:   d.Store,
		courier: d.Courier,
		lock:    d.Locker,
		events:  d.Publisher,
		metrics: d.Metrics,
		log:     d.Log,
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Validate checks a request before any transaction is opened.
func (r Request) Validate() *Failure {
	if _, ok := methods[r.Method]; !ok {
		return fail(KindValidation, MsgInvalidMethod)
	}
	if strings.TrimSpace(r.DeliveryAddress) == "" {
		return fail(KindValidation, MsgMissingAddress)
	}
	if !r.Amount.IsPositive() {
		return fail(KindValidation, MsgInvalidAmount)
	}
	if strings.TrimSpace(r.BuyerID) == "" {
		return fail(KindValidation, "buyer required")
	}
	return nil
}

// Checkout turns the buyer's cart into an order, its lines and a pending
// payment, decrements stock and empties the cart, all in one transaction.
// Every failure is returned as *Failure and leaves the database untouched.
func (s *Service) Checkout(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	ctx = s.log.WithFields(ctx, map[string]any{"buyer_id": req.BuyerID, "method": string(req.Method)})
	defer func() { s.observe(err, time.Since(start)) }()

	if f := req.Validate(); f != nil {
		return nil, f
	}

	release, err := s.acquire(ctx, req.BuyerID)
	if err != nil {
		return nil, err
	}
	defer release()

	courier := toCents(s.courier.Cost(req.DeliveryAddress))
	orderID, paymentID := s.newID(), s.newID()
	now := s.now()

	var placed OrderPlacedPayload
	err = s.store.WithTx(ctx, func(tx Tx) error {
		lines, err := tx.LockCart(ctx, req.BuyerID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return fail(KindEmptyCart, MsgEmptyCart)
		}
		if sf := CheckStock(lines); len(sf) > 0 {
			return stockFailure(sf)
		}

		subtotal := Subtotal(lines)
		if posted := toCents(req.Amount); posted != subtotal {
			s.log.Warn(s.log.WithFields(ctx, map[string]any{
				"posted_cents": posted, "cart_cents": subtotal,
			}), "checkout.amount_mismatch")
		}
		total := subtotal + courier

		if err := tx.InsertOrder(ctx, Order{
			ID:              orderID,
			BuyerID:         req.BuyerID,
			TotalCents:      total,
			DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
			CourierCents:    courier,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		items := make([]PlacedItem, 0, len(lines))
		for _, l := range lines {
			if err := tx.InsertOrderLine(ctx, OrderLine{
				OrderID:    orderID,
				ProductID:  l.ProductID,
				Quantity:   l.Quantity,
				PriceCents: l.PriceCents,
			}); err != nil {
				return err
			}
			if err := tx.DecrementStock(ctx, l.ProductID, l.Quantity); err != nil {
				return err
			}
			items = append(items, PlacedItem{ProductID: l.ProductID, Quantity: l.Quantity, PriceCents: l.PriceCents})
		}

		if err := tx.InsertPayment(ctx, Payment{
			ID:           paymentID,
			OrderID:      orderID,
			BuyerID:      req.BuyerID,
			Method:       req.Method,
			CartCents:    subtotal,
			CourierCents: courier,
			TotalCents:   total,
			Status:       PaymentPending,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		if _, err := tx.ClearCart(ctx, req.BuyerID); err != nil {
			return err
		}

		placed = OrderPlacedPayload{
			OrderID:      orderID,
			PaymentID:    paymentID,
			BuyerID:      req.BuyerID,
			Method:       req.Method,
			TotalCents:   total,
			CourierCents: courier,
			Items:        items,
		}
		return nil
	})
	if err != nil {
		f := AsFailure(err)
		if f.Kind == KindInternal {
			s.log.Error(ctx, "checkout.failed", err)
		} else {
			s.log.Info(s.log.WithField(ctx, "reason", string(f.Kind)), "checkout.rejected")
		}
		return nil, f
	}

	ctx = s.log.WithFields(ctx, map[string]any{"order_id": orderID, "payment_id": paymentID})
	s.log.Info(ctx, "checkout.completed")
	s.publish(ctx, placed)

	return &Result{
		OrderID:      orderID,
		PaymentID:    paymentID,
		Method:       req.Method,
		TotalCents:   placed.TotalCents,
		CourierCents: courier,
	}, nil
}

// Cancel empties the buyer's cart. An already-empty cart is not an error.
func (s *Service) Cancel(ctx context.Context, buyerID string) error {
	if strings.TrimSpace(buyerID) == "" {
		return fail(KindValidation, "buyer required")
	}
	ctx = s.log.WithField(ctx, "buyer_id", buyerID)

	var removed int64
	err := s.store.WithTx(ctx, func(tx Tx) error {
		n, err := tx.ClearCart(ctx, buyerID)
		removed = n
		return err
	})
	if err != nil {
		s.log.Error(ctx, "checkout.cancel.failed", err)
		return internal(err)
	}
	s.log.Info(s.log.WithField(ctx, "removed", removed), "checkout.cancelled")
	return nil
}

// Order returns the buyer's own order; other buyers' orders look missing.
func (s *Service) Order(ctx context.Context, buyerID, orderID string) (*OrderView, error) {
	v, err := s.store.FindOrder(ctx, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, fail(KindNotFound, "order not found")
	}
	if err != nil {
		return nil, internal(err)
	}
	if v.Order.BuyerID != buyerID {
		return nil, fail(KindNotFound, "order not found")
	}
	return v, nil
}

func (s *Service) acquire(ctx context.Context, buyerID string) (func(), error) {
	noop := func() {}
	if s.lock == nil {
		return noop, nil
	}
	release, ok, err := s.lock.Acquire(ctx, buyerID)
	if err != nil {
		// the row locks still protect stock; the lock only dedups double submits
		s.log.Error(ctx, "checkout.lock.unavailable", err)
		return noop, nil
	}
	if !ok {
		return nil, fail(KindInProgress, MsgInProgress)
	}
	if release == nil {
		release = noop
	}
	return release, nil
}

func (s *Service) publish(ctx context.Context, p OrderPlacedPayload) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderPlaced(ctx, p); err != nil {
		s.log.Error(ctx, "checkout.event.publish_failed", err)
	}
}

func (s *Service) observe(err error, d time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(AsFailure(err).Kind)
	}
	s.metrics.ObserveCheckout(outcome, d)
}

// Quote is the total the buyer would pay for subtotal at address.
func (s *Service) Quote(address string, subtotal decimal.Decimal) (courier, total decimal.Decimal) {
	courier = s.courier.Cost(address)
	return courier, subtotal.Add(courier)
}
