package checkout

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type product struct {
	name  string
	stock int
}

type memState struct {
	products map[string]product
	carts    map[string][]CartLine // buyer -> lines without stock
	orders   map[string]Order
	lines    []OrderLine
	payments []Payment
}

func (s memState) clone() memState {
	c := memState{
		products: make(map[string]product, len(s.products)),
		carts:    make(map[string][]CartLine, len(s.carts)),
		orders:   make(map[string]Order, len(s.orders)),
		lines:    append([]OrderLine(nil), s.lines...),
		payments: append([]Payment(nil), s.payments...),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = append([]CartLine(nil), v...)
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

// memStore mimics the repo: WithTx works on a copy and swaps it in on success.
type memStore struct {
	mu      sync.Mutex
	state   memState
	failOn  string // name of a Tx method that should error
	commits int
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		products: map[string]product{},
		carts:    map[string][]CartLine{},
		orders:   map[string]Order{},
	}}
}

func (m *memStore) addProduct(id, name string, stock int) {
	m.state.products[id] = product{name: name, stock: stock}
}

func (m *memStore) addToCart(buyer, productID string, qty int, priceCents int64) {
	m.state.carts[buyer] = append(m.state.carts[buyer], CartLine{
		BuyerID: buyer, ProductID: productID, Quantity: qty, PriceCents: priceCents,
	})
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) WithTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(&memTx{s: &work, failOn: m.failOn}); err != nil {
		return err
	}
	m.state = work
	m.commits++
	return nil
}

func (m *memStore) FindOrder(_ context.Context, orderID string) (*OrderView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	v := &OrderView{Order: o}
	for _, l := range m.state.lines {
		if l.OrderID == orderID {
			v.Lines = append(v.Lines, l)
		}
	}
	for i := range m.state.payments {
		if m.state.payments[i].OrderID == orderID {
			p := m.state.payments[i]
			v.Payment = &p
		}
	}
	return v, nil
}

var errInjected = errors.New("injected failure")

type memTx struct {
	s      *memState
	failOn string
}

func (t *memTx) check(op string) error {
	if t.failOn == op {
		return errInjected
	}
	return nil
}

func (t *memTx) LockCart(_ context.Context, buyerID string) ([]CartLine, error) {
	if err := t.check("LockCart"); err != nil {
		return nil, err
	}
	var out []CartLine
	for _, l := range t.s.carts[buyerID] {
		p := t.s.products[l.ProductID]
		l.ProductName, l.Stock = p.name, p.stock
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (t *memTx) InsertOrder(_ context.Context, o Order) error {
	if err := t.check("InsertOrder"); err != nil {
		return err
	}
	t.s.orders[o.ID] = o
	return nil
}

func (t *memTx) InsertOrderLine(_ context.Context, l OrderLine) error {
	if err := t.check("InsertOrderLine"); err != nil {
		return err
	}
	t.s.lines = append(t.s.lines, l)
	return nil
}

func (t *memTx) DecrementStock(_ context.Context, productID string, qty int) error {
	if err := t.check("DecrementStock"); err != nil {
		return err
	}
	p := t.s.products[productID]
	if p.stock < qty {
		return ErrStockChanged
	}
	p.stock -= qty
	t.s.products[productID] = p
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p Payment) error {
	if err := t.check("InsertPayment"); err != nil {
		return err
	}
	t.s.payments = append(t.s.payments, p)
	return nil
}

func (t *memTx) ClearCart(_ context.Context, buyerID string) (int64, error) {
	if err := t.check("ClearCart"); err != nil {
		return 0, err
	}
	n := int64(len(t.s.carts[buyerID]))
	delete(t.s.carts, buyerID)
	return n, nil
}

type stubLocker struct {
	held     map[string]bool
	err      error
	released int
}

func (l *stubLocker) Acquire(_ context.Context, buyerID string) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[buyerID] {
		return nil, false, nil
	}
	l.held[buyerID] = true
	return func() {
		delete(l.held, buyerID)
		l.released++
	}, true, nil
}

type stubPublisher struct {
	events []OrderPlacedPayload
	err    error
}

func (p *stubPublisher) PublishOrderPlaced(_ context.Context, e OrderPlacedPayload) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

type stubRecorder struct {
	outcomes []string
}

func (r *stubRecorder) ObserveCheckout(outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}
